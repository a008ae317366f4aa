package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

// NotificationKind names a gateway webhook.
type NotificationKind string

const (
	NotifyPay       NotificationKind = "pay"
	NotifyFail      NotificationKind = "fail"
	NotifyRecurrent NotificationKind = "recurrent"
	NotifyRefund    NotificationKind = "refund"
)

var (
	ErrUnknownNotification = errors.New("unknown notification kind")
	ErrInvalidSignature    = errors.New("invalid notification signature")
)

// Notification is a decoded gateway webhook body.
type Notification struct {
	Kind          NotificationKind
	UserID        domain.UserID
	InvoiceID     string
	TransactionID string
	Token         string
	Reason        string
	Success       bool
}

type notificationBody struct {
	AccountID     json.Number `json:"AccountId"`
	InvoiceID     string      `json:"InvoiceId"`
	TransactionID json.Number `json:"TransactionId"`
	Token         string      `json:"Token"`
	Reason        string      `json:"Reason"`
	Success       *bool       `json:"Success"`
}

// ParseNotification decodes a webhook body of the given kind.
func ParseNotification(kind NotificationKind, body []byte) (Notification, error) {
	switch kind {
	case NotifyPay, NotifyFail, NotifyRecurrent, NotifyRefund:
	default:
		return Notification{}, fmt.Errorf("%w: %q", ErrUnknownNotification, kind)
	}

	var b notificationBody
	if err := json.Unmarshal(body, &b); err != nil {
		return Notification{}, fmt.Errorf("decode %s notification: %w", kind, err)
	}
	n := Notification{
		Kind:          kind,
		InvoiceID:     b.InvoiceID,
		TransactionID: b.TransactionID.String(),
		Token:         b.Token,
		Reason:        b.Reason,
		Success:       kind == NotifyPay,
	}
	if b.Success != nil {
		n.Success = *b.Success
	}
	if b.AccountID != "" {
		id, err := strconv.ParseInt(b.AccountID.String(), 10, 64)
		if err != nil {
			return Notification{}, fmt.Errorf("decode %s notification: account id %q: %w", kind, b.AccountID, err)
		}
		n.UserID = domain.UserID(id)
	}

	switch kind {
	case NotifyRecurrent:
		if n.UserID == 0 {
			return Notification{}, fmt.Errorf("%s notification without AccountId", kind)
		}
	default:
		if n.InvoiceID == "" {
			return Notification{}, fmt.Errorf("%s notification without InvoiceId", kind)
		}
	}
	return n, nil
}

// Sign computes the Content-HMAC header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a Content-HMAC header in constant time.
func VerifySignature(body []byte, signature, secret string) error {
	if signature == "" || secret == "" {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(Sign(body, secret)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
