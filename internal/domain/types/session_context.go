package types

// SessionUser names the local device: a SecretName plus the DeviceID that
// distinguishes it from its siblings.
type SessionUser struct {
	SecretName SecretName `bson:"secret_name"`
	DeviceID   DeviceID   `bson:"device_id"`
}

// SignedOneTimeKeyPublic is a one-time public key as published in a user
// configuration, together with the signature over it.
type SignedOneTimeKeyPublic struct {
	OneTimeKeyPublic `bson:",inline"`
	Signature        []byte `bson:"signature"`
}

// SignedKyberOneTimeKeyPublic is the Kyber analogue of SignedOneTimeKeyPublic.
type SignedKyberOneTimeKeyPublic struct {
	KyberOneTimeKeyPublic `bson:",inline"`
	Signature             []byte `bson:"signature"`
}

// VerifiedDevice is one entry of a user configuration's device list.
type VerifiedDevice struct {
	DeviceID   DeviceID `bson:"device_id"`
	DeviceName string   `bson:"device_name"`
	IsMaster   bool     `bson:"is_master"`
}

// UserConfiguration is the authoritative, signed bundle a device publishes
// and peers fetch through SessionTransport.findConfiguration. It is the
// "lastUserConfiguration" cached on SessionContext and also what
// refreshIdentities validates and diffs against.
type UserConfiguration struct {
	SecretName             SecretName                    `bson:"secret_name"`
	SigningPublicKey       Ed25519Public                 `bson:"signing_public_key"`
	LongTermPublicKey      X25519Public                  `bson:"long_term_public_key"`
	SignedOneTimeKeys      []SignedOneTimeKeyPublic       `bson:"signed_one_time_keys"`
	SignedKyberOneTimeKeys []SignedKyberOneTimeKeyPublic  `bson:"signed_kyber_one_time_keys"`
	FinalKyberPublicKey    KyberPublicKey                `bson:"final_kyber_public_key"`
	VerifiedDevices        []VerifiedDevice              `bson:"verified_devices"`
	ConfigurationSignature []byte                        `bson:"configuration_signature"`
}

// SignedPayload returns the bytes the ConfigurationSignature is computed
// over, in a stable order: the secret name, the signing and long-term
// public keys, the one-time and Kyber one-time public key bytes, the final
// Kyber public key and the verified device ids. One-time key ids, their
// per-key signatures, device names and master flags are not covered.
func (c UserConfiguration) SignedPayload() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, []byte(c.SecretName)...)
	buf = append(buf, c.SigningPublicKey.Slice()...)
	buf = append(buf, c.LongTermPublicKey.Slice()...)
	for _, k := range c.SignedOneTimeKeys {
		buf = append(buf, k.Key.Slice()...)
	}
	for _, k := range c.SignedKyberOneTimeKeys {
		buf = append(buf, k.Key...)
	}
	buf = append(buf, c.FinalKyberPublicKey...)
	for _, d := range c.VerifiedDevices {
		idBytes := d.DeviceID
		buf = append(buf, idBytes[:]...)
	}
	return buf
}

// SessionContext is the process-wide, single record describing this device:
// who it is, its private key material, and the last configuration it
// published. Exactly one exists per device.
type SessionContext struct {
	SessionUser           SessionUser       `bson:"session_user"`
	DeviceKeys            DeviceKeys        `bson:"device_keys"`
	LastUserConfiguration UserConfiguration `bson:"last_user_configuration"`
}
