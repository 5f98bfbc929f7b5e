package grid

import "sheetledger/internal/core"

// TransactionWidth is the number of cells a transaction occupies.
const TransactionWidth = 4

// DecodeTransaction reads day, note, price and the cash flag from the four
// cells starting at base. Short rows decode to zero values.
func DecodeTransaction(row core.Row, base int) core.Transaction {
	tx := core.Transaction{
		Day:        row.At(base),
		Note:       row.At(base + 1).String(),
		PaidByCash: core.IsCashMarker(row.At(base + 3)),
	}
	price := row.At(base + 2)
	switch price.Kind {
	case core.CellNumber:
		tx.Price = price.Num
	case core.CellText:
		if f, err := core.ParsePrice(price.Str); err == nil {
			tx.Price = f
		}
	}
	return tx
}

// EncodeTransaction builds the row written by an append:
// [day, note, price, "x" | ""].
func EncodeTransaction(day core.Cell, note string, price float64, paidByCash bool) core.Row {
	return core.Row{day, core.Text(note), core.Number(price), core.CashCell(paidByCash)}
}
