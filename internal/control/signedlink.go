package control

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"tgdl/config"
)

// signZipLink produces a (signature, expiry) pair for a zip manager_id, the
// same HMAC-over-id+expiry scheme the teacher used for its direct-stream
// URLs, repointed at zip downloads instead of raw message streaming.
func signZipLink(managerID string) (signature string, expiresAt int64) {
	exp := time.Now().Add(time.Duration(config.ValueOf.ZipLinkTTLSeconds) * time.Second).Unix()
	return computeZipLinkHMAC(managerID, exp), exp
}

func computeZipLinkHMAC(managerID string, expiresAt int64) string {
	h := hmac.New(sha256.New, []byte(config.ValueOf.ZipLinkSecret))
	fmt.Fprintf(h, "%s:%d", managerID, expiresAt)
	return hex.EncodeToString(h.Sum(nil))
}

// validateZipLink checks sig/expires query params against managerID. An
// empty ZipLinkSecret disables signing entirely (manager_id alone grants
// access), matching the teacher's "no secret configured" bypass.
func validateZipLink(managerID, signature, expires string) error {
	if config.ValueOf.ZipLinkSecret == "" {
		return nil
	}
	if signature == "" || expires == "" {
		return fmt.Errorf("missing signature or expires")
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expires")
	}
	if time.Now().Unix() > exp {
		return fmt.Errorf("link expired")
	}
	expected := computeZipLinkHMAC(managerID, exp)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}
