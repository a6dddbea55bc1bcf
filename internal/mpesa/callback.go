package mpesa

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/seven7-ai/mpesa-gobackend/internal/models"
)

// Wire shapes for the two notification channels. Field names are fixed by
// the switch and case-sensitive.

type metadataItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

type stkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []metadataItem `json:"Item"`
	} `json:"CallbackMetadata,omitempty"`
}

type resultParameter struct {
	Key   string      `json:"Key"`
	Value interface{} `json:"Value"`
}

type statusResult struct {
	ResultType        *int   `json:"ResultType,omitempty"`
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	ResultParameters  *struct {
		ResultParameter []resultParameter `json:"ResultParameter"`
	} `json:"ResultParameters,omitempty"`
}

type callbackEnvelope struct {
	Body struct {
		StkCallback *stkCallback `json:"stkCallback,omitempty"`
	} `json:"Body"`
	Result *statusResult `json:"Result,omitempty"`
}

// ParseCallback normalizes an inbound notification payload into a
// NotificationRecord. It accepts the STK push result shape
// (Body.stkCallback) and the transaction status result/timeout shape
// (Result), and is pure: no I/O, deterministic for a given payload.
func ParseCallback(payload []byte) (*models.NotificationRecord, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, &ValidationError{Message: "malformed notification"}
	}

	switch {
	case envelope.Body.StkCallback != nil:
		return parseSTKCallback(envelope.Body.StkCallback), nil
	case envelope.Result != nil:
		return parseStatusResult(envelope.Result), nil
	default:
		return nil, &ValidationError{Message: "malformed notification"}
	}
}

func parseSTKCallback(cb *stkCallback) *models.NotificationRecord {
	record := &models.NotificationRecord{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		Succeeded:         cb.ResultCode == 0,
	}
	if !record.Succeeded || cb.CallbackMetadata == nil {
		return record
	}
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := valueToFloat(item.Value); ok {
				record.Amount = &v
			}
		case "MpesaReceiptNumber":
			record.ReceiptNumber = valueToString(item.Value)
		case "TransactionDate":
			record.TransactionDate = valueToString(item.Value)
		case "PhoneNumber":
			record.PhoneNumber = valueToString(item.Value)
		}
	}
	return record
}

// parseStatusResult normalizes the status query shape. The switch only
// reports the receipt number reliably on this channel; amount, date and
// phone stay unset.
func parseStatusResult(result *statusResult) *models.NotificationRecord {
	record := &models.NotificationRecord{
		MerchantRequestID: result.MerchantRequestID,
		CheckoutRequestID: result.CheckoutRequestID,
		ResultCode:        result.ResultCode,
		ResultDesc:        result.ResultDesc,
		Succeeded:         result.ResultCode == 0,
	}
	if result.ResultParameters == nil {
		return record
	}
	for _, param := range result.ResultParameters.ResultParameter {
		if param.Key == "ReceiptNo" {
			record.ReceiptNumber = valueToString(param.Value)
		}
	}
	return record
}

func valueToString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// Metadata numbers like TransactionDate fit in a float64 mantissa,
		// so this round-trips without an exponent.
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func valueToFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
