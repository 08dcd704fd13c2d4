// Package obscure reversibly obscures host/directory passwords stored in
// config files. It stops a password showing up in plain text when a config
// file is viewed over someone's shoulder; it is not a substitute for
// secrets management and makes no claim to withstand a determined attacker
// who has the config file.
package obscure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// cryptKey is a fixed key, not a secret - obscuring only needs to defeat
// casual shoulder-surfing of config files, not a targeted attack.
var cryptKey = []byte{
	0x9c, 0x93, 0x5b, 0x48, 0x73, 0x0a, 0x55, 0x4d,
	0x6b, 0xfd, 0x7c, 0x63, 0xc8, 0x86, 0xa9, 0x2b,
	0xd3, 0x90, 0x19, 0x8e, 0xb8, 0x12, 0x8a, 0xfb,
	0xf4, 0xde, 0x16, 0x2b, 0x8b, 0x95, 0xf6, 0x38,
}

// cryptRand is a package variable so tests can substitute a deterministic
// source for the IV.
var cryptRand io.Reader = rand.Reader

func newCipher() (cipher.Block, error) {
	return aes.NewCipher(cryptKey)
}

// Obscure encodes a plain-text password into its obscured form.
func Obscure(x string) (string, error) {
	block, err := newCipher()
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(cryptRand, iv); err != nil {
		return "", fmt.Errorf("failed to read random IV: %w", err)
	}
	buf := append([]byte{}, iv...)
	stream := cipher.NewCFBEncrypter(block, iv)
	plain := []byte(x)
	crypted := make([]byte, len(plain))
	stream.XORKeyStream(crypted, plain)
	buf = append(buf, crypted...)
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// MustObscure is like Obscure but panics on error.
func MustObscure(x string) string {
	out, err := Obscure(x)
	if err != nil {
		panic(fmt.Sprintf("obscure: failed to obscure password: %v", err))
	}
	return out
}

// Reveal decodes an obscured password back into plain text.
func Reveal(x string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(x)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed when revealing password - is it obscured?: %w", err)
	}
	if len(raw) < aes.BlockSize {
		return "", errors.New("input too short when revealing password - is it obscured?")
	}
	block, err := newCipher()
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	buf := raw[aes.BlockSize:]
	iv := raw[:aes.BlockSize]
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(buf, buf)
	return string(buf), nil
}

// MustReveal is like Reveal but panics on error.
func MustReveal(x string) string {
	out, err := Reveal(x)
	if err != nil {
		panic(fmt.Sprintf("obscure: failed to reveal password: %v", err))
	}
	return out
}
