package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDescriptionInputLine(t *testing.T) {
	in := DescriptionInput{Direction: "gasto", Amount: decimal.RequireFromString("7.5"), Description: "Cafeteria"}
	if got := in.Line(); got != "gasto 7.50: Cafeteria" {
		t.Fatalf("unexpected line %q", got)
	}
}
