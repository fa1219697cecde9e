/*
 * Copyright 2024 Department for International Trade
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package authengine

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// validatePassword compares a plaintext password against a stored
// credential, dispatching on the credential's prefix: bcrypt, Apache
// MD5 crypt, unsalted SHA1 ({SHA}), or plain text compared in constant
// time.
func validatePassword(plain, stored string) bool {
	switch {
	case strings.HasPrefix(stored, "$2y$"), strings.HasPrefix(stored, "$2a$"):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain)) == nil
	case strings.HasPrefix(stored, "$apr1$"):
		ok, err := validateMD5Crypt(plain, stored)
		return ok && err == nil
	case strings.HasPrefix(stored, "{SHA}"):
		ok, err := validateSHA1(plain, stored)
		return ok && err == nil
	default:
		return subtle.ConstantTimeCompare([]byte(plain), []byte(stored)) == 1
	}
}

func validateSHA1(plain, stored string) (bool, error) {
	encoded := stored[len("{SHA}"):]
	expected, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false, err
	}
	h := sha1.New()
	h.Write([]byte(plain))
	computed := h.Sum(nil)
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func validateMD5Crypt(plain, stored string) (bool, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 || parts[0] != "" || parts[1] != "apr1" {
		return false, fmt.Errorf("invalid MD5 crypt format: expected $apr1$salt$hash")
	}
	salt := parts[2]
	return generateMD5Crypt(plain, salt) == stored, nil
}

// generateMD5Crypt implements the Apache-variant MD5 crypt algorithm.
func generateMD5Crypt(password, salt string) string {
	if len(salt) > 8 {
		salt = salt[:8]
	}

	h1 := md5.New()
	h1.Write([]byte(password))
	h1.Write([]byte("$apr1$"))
	h1.Write([]byte(salt))

	h2 := md5.New()
	h2.Write([]byte(password))
	h2.Write([]byte(salt))
	h2.Write([]byte(password))
	alt := h2.Sum(nil)

	for i := len(password); i > 0; i -= 16 {
		if i > 16 {
			h1.Write(alt)
		} else {
			h1.Write(alt[:i])
		}
	}

	for i := len(password); i > 0; i >>= 1 {
		if i&1 == 1 {
			h1.Write([]byte{0})
		} else {
			h1.Write([]byte{password[0]})
		}
	}

	digest := h1.Sum(nil)

	for i := 0; i < 1000; i++ {
		h := md5.New()
		if i&1 == 1 {
			h.Write([]byte(password))
		} else {
			h.Write(digest)
		}
		if i%3 != 0 {
			h.Write([]byte(salt))
		}
		if i%7 != 0 {
			h.Write([]byte(password))
		}
		if i&1 == 1 {
			h.Write(digest)
		} else {
			h.Write([]byte(password))
		}
		digest = h.Sum(nil)
	}

	return fmt.Sprintf("$apr1$%s$%s", salt, encodeMD5Hash(digest))
}

func encodeMD5Hash(digest []byte) string {
	const alphabet = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	result := make([]byte, 0, 22)
	groups := [][3]int{
		{0, 6, 12},
		{1, 7, 13},
		{2, 8, 14},
		{3, 9, 15},
		{4, 10, 5},
		{11, -1, -1},
	}

	for i, group := range groups {
		var val int
		var chars int
		if i == 5 {
			val = int(digest[group[0]])
			chars = 2
		} else {
			val = (int(digest[group[0]]) << 16) | (int(digest[group[1]]) << 8) | int(digest[group[2]])
			chars = 4
		}
		for j := 0; j < chars; j++ {
			result = append(result, alphabet[val&0x3f])
			val >>= 6
		}
	}

	return string(result)
}
