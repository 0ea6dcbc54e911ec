package utils

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"time"
)

// randomSuffix returns a short unguessable token from crypto/rand.
func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; fall back to
		// the clock so IDs stay unique within a process.
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
}

// GenerateQRCode builds the unique code embedded in a ticket's QR image:
// order, ticket type and sequence make it traceable, the timestamp and
// random suffix make it unguessable. Codes are never reused.
func GenerateQRCode(orderID, ticketTypeID string, seq int) string {
	return fmt.Sprintf("TKT-%s-%s-%d-%d-%s", orderID, ticketTypeID, seq, time.Now().Unix(), randomSuffix(6))
}

// GeneratePaymentRef returns a reference for manually confirmed payments,
// where no gateway transaction ID exists.
func GeneratePaymentRef() string {
	return fmt.Sprintf("PAY-%d-%s", time.Now().Unix(), randomSuffix(6))
}
