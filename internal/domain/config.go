package domain

import "time"

type Config struct {
	FQDN       string
	PrivateKey string
	SignerID   string
	TokenTTL   time.Duration
}
