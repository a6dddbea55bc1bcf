package models

import "time"

// CallbackType tags which channel produced a notification record.
type CallbackType string

const (
	CallbackSTKPush       CallbackType = "stk_push"
	CallbackStatusResult  CallbackType = "transaction_status_result"
	CallbackStatusTimeout CallbackType = "transaction_status_timeout"
)

// NotificationRecord is the canonical payment outcome persisted for every
// inbound callback and every polled status result. Amount, ReceiptNumber,
// TransactionDate and PhoneNumber are only set for successful payments and
// only when the producing channel reports them.
type NotificationRecord struct {
	MerchantRequestID string   `bson:"merchant_request_id" json:"merchant_request_id"`
	CheckoutRequestID string   `bson:"checkout_request_id" json:"checkout_request_id"`
	ResultCode        int      `bson:"result_code" json:"result_code"`
	ResultDesc        string   `bson:"result_desc" json:"result_desc"`
	Succeeded         bool     `bson:"succeeded" json:"succeeded"`
	Amount            *float64 `bson:"amount,omitempty" json:"amount,omitempty"`
	ReceiptNumber     string   `bson:"receipt_number,omitempty" json:"receipt_number,omitempty"`
	TransactionDate   string   `bson:"transaction_date,omitempty" json:"transaction_date,omitempty"`
	PhoneNumber       string   `bson:"phone_number,omitempty" json:"phone_number,omitempty"`
}

// StoredNotification is the document shape in the transactions collection.
type StoredNotification struct {
	NotificationRecord `bson:",inline"`
	CallbackType       CallbackType `bson:"callback_type" json:"callback_type"`
	UpdatedAt          time.Time    `bson:"updated_at" json:"updated_at"`
}
