// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps filippo.io/age for the credential store:
// generate an x25519 identity, encrypt to recipients, and decrypt with
// an identity. Ciphertext is ASCII-armored so sealed files are plain
// text.
//
// Private keys and decrypted plaintext are returned as secret.Buffer
// values: locked memory outside the Go heap, zeroed on Close.
package sealed

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/tandem-chat/tandem/lib/secret"
)

// Keypair is an age x25519 keypair. The caller must Close it.
type Keypair struct {
	// PrivateKey is the AGE-SECRET-KEY-1... encoding. Never log it.
	PrivateKey *secret.Buffer

	// PublicKey is the age1... recipient string.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}
	// The identity's own string is heap memory we cannot clear; the
	// buffer is the durable copy.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// PublicKeyOf derives the recipient string for privateKey. The key is
// borrowed, not closed.
func PublicKeyOf(privateKey *secret.Buffer) (string, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return "", fmt.Errorf("invalid age private key: %w", err)
	}
	return identity.Recipient().String(), nil
}

// Encrypt encrypts plaintext to every recipient (age1... strings) and
// returns armored ciphertext. At least one recipient is required.
func Encrypt(plaintext []byte, recipientKeys ...string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	armorWriter := armor.NewWriter(&ciphertext)
	writer, err := age.Encrypt(armorWriter, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Decrypt decrypts armored ciphertext with privateKey (borrowed, not
// closed). The caller must Close the returned plaintext.
func Decrypt(ciphertext []byte, privateKey *secret.Buffer) (*secret.Buffer, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	reader, err := age.Decrypt(armor.NewReader(bytes.NewReader(ciphertext)), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		// An encrypted empty file still needs a buffer to return.
		return secret.New(1)
	}
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}
