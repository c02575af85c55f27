package history

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// DomainVerdicts prefixes the fingerprint hash. The version suffix allows
// the canonical form to change without colliding with old fingerprints.
const DomainVerdicts = "stagecheck/verdicts/v1"

// canonicalVerdict is the hashed projection of a Record. Fields are declared
// in lexicographic key order so encoding/json emits sorted keys.
type canonicalVerdict struct {
	CandidateExit   int    `json:"candidate_exit"`
	CandidateStdout string `json:"candidate_stdout_sha"`
	Folder          string `json:"folder"`
	Input           string `json:"input"`
	ReferenceExit   int    `json:"reference_exit"`
	ReferenceStdout string `json:"reference_stdout_sha"`
	Stage           string `json:"stage"`
	Status          string `json:"status"`
}

// Fingerprint hashes the verdict sequence. Order matters; reasons and
// sequence numbers do not, since both follow from the hashed fields.
func Fingerprint(records []Record) (string, error) {
	data, err := MarshalCanonical(records)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainVerdicts, data), nil
}

// MarshalCanonical renders records as compact JSON with sorted keys,
// NFC-normalized names and no HTML escaping.
func MarshalCanonical(records []Record) ([]byte, error) {
	out := make([]canonicalVerdict, len(records))
	for i, r := range records {
		out[i] = canonicalVerdict{
			CandidateExit:   r.CandidateExit,
			CandidateStdout: r.CandidateStdout,
			Folder:          norm.NFC.String(r.Folder),
			Input:           norm.NFC.String(r.Input),
			ReferenceExit:   r.ReferenceExit,
			ReferenceStdout: r.ReferenceStdout,
			Stage:           norm.NFC.String(r.Stage),
			Status:          r.Status,
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
