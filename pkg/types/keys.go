package types

import "time"

// DelegateKeyMaterial is the doctor-side keypair used by the standalone
// key-exchange channel. The private key is stored password-encrypted and the
// vault never sees it unwrapped. The primary grant path does not depend on
// this material.
type DelegateKeyMaterial struct {
	PrincipalID       string    `json:"principal_id" db:"principal_id"`
	PublicKey         string    `json:"public_key" db:"public_key"` // SPKI PEM
	WrappedPrivateKey string    `json:"-" db:"wrapped_private_key"` // ivHex:ciphertextHex
	GeneratedAt       time.Time `json:"generated_at" db:"generated_at"`
}
