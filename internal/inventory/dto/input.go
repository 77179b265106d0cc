package dto

type SetStockInput struct {
	ProductID  string
	TotalStock int64
	Reason     string
	UserID     string
}
