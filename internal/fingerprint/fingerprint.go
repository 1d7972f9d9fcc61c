// Package fingerprint derives the content hashes that tie a proxied
// request to its audit log entry and on-chain record.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// canonicalRequest is the exact shape that gets hashed. Field order is
// fixed by the struct, map keys are sorted by encoding/json.
type canonicalRequest struct {
	Method   string            `json:"method"`
	Endpoint string            `json:"endpoint"`
	Params   map[string]string `json:"params"`
	Body     interface{}       `json:"body"`
}

// Request computes the SHA-256 fingerprint of a forwarded request.
// Two requests with the same method, endpoint, forwarded parameters and
// body always produce the same 64-character hex digest, regardless of
// parameter order or JSON body formatting.
func Request(method, endpoint string, params map[string]string, body []byte) (string, error) {
	if params == nil {
		params = map[string]string{}
	}
	canon := canonicalRequest{
		Method:   method,
		Endpoint: endpoint,
		Params:   params,
		Body:     canonicalBody(body),
	}
	data, err := json.Marshal(canon)
	if err != nil {
		return "", errors.Wrap(err, "canonicalize request")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalBody normalizes the request body for hashing. A JSON body
// is re-encoded with sorted object keys and number literals preserved.
// Anything else hashes as its raw string; an absent body is an empty
// object.
func canonicalBody(body []byte) interface{} {
	if len(body) == 0 {
		return map[string]interface{}{}
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return string(body)
	}
	// Trailing content means the body is not a single JSON document.
	if _, err := dec.Token(); err != io.EOF {
		return string(body)
	}
	return v
}

// Key computes the Keccak-256 hash of a raw API key. The raw key never
// leaves the process; this hash is what gets anchored on chain.
func Key(key string) common.Hash {
	return crypto.Keccak256Hash([]byte(key))
}
