package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const (
	TrackingIDLength   = 6
	trackingIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var trackingIDPattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func NewTrackingID() (string, error) {
	max := big.NewInt(int64(len(trackingIDAlphabet)))
	buf := make([]byte, TrackingIDLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate tracking id: %w", err)
		}
		buf[i] = trackingIDAlphabet[n.Int64()]
	}
	return string(buf), nil
}

func ValidTrackingID(id string) bool {
	return trackingIDPattern.MatchString(id)
}
