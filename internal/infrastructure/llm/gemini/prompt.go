package gemini

const systemPrompt = `Eres un asistente especializado en extraer datos de extractos bancarios.
Analizas el documento adjunto y devuelves exclusivamente JSON valido, sin markdown ni texto adicional.`

const statementPrompt = `Extrae cada transaccion del extracto bancario adjunto.

Para cada transaccion devuelve:
- "transaction_value": numero con hasta dos decimales, sin simbolo de moneda. Negativo para cargos (compras, retiros, pagos), positivo para abonos (depositos, nomina, transferencias recibidas).
- "description": concepto, comercio o referencia. Usa "" si no existe.
- "date": fecha en formato AAAA-MM-DD. Si falta el ano, usa el mas probable segun el extracto.
- "transaction_type": "expense" si el valor es negativo, "income" en otro caso.
- "balance_after_transaction": saldo despues de la transaccion, o null si no aparece.

Devuelve un objeto con estas claves de primer nivel:
{
  "previous_balance": saldo antes de la primera transaccion del periodo,
  "current_balance": saldo despues de la ultima transaccion del periodo,
  "transactions": [ ... ]
}

Si el documento no es un extracto bancario o no se puede procesar, devuelve:
{"previous_balance": null, "current_balance": null, "transactions": []}

Ejemplo:
01/06/2024  PAGO NETFLIX         15.99           1500.20
03/06/2024  INGRESO NOMINA               1200.00 2700.20

{
  "previous_balance": 1516.19,
  "current_balance": 2700.20,
  "transactions": [
    {"transaction_value": -15.99, "description": "PAGO NETFLIX", "date": "2024-06-01", "transaction_type": "expense", "balance_after_transaction": 1500.20},
    {"transaction_value": 1200.00, "description": "INGRESO NOMINA", "date": "2024-06-03", "transaction_type": "income", "balance_after_transaction": 2700.20}
  ]
}`
