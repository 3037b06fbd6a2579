package calendar

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"time"

	"teamspace/config"

	"github.com/pion/webrtc/v3"
)

// ICE hands out ICE server lists for online meetings. TURN credentials follow
// the coturn REST scheme: the username is "<expiry>:<user>" and the password
// is the base64 HMAC-SHA1 of the username under the shared secret.
type ICE struct {
	cfg config.TurnConfig
	now func() time.Time
}

func NewICE(cfg config.TurnConfig) *ICE {
	return &ICE{cfg: cfg, now: time.Now}
}

func turnCredentials(secret, userID string, expires time.Time) (string, string) {
	username := strconv.FormatInt(expires.Unix(), 10) + ":" + userID

	h := hmac.New(sha1.New, []byte(secret))
	h.Write([]byte(username))
	return username, base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Configuration returns the servers a participant should use and when the
// TURN credentials in it stop working. Without a TURN secret only STUN is
// offered.
func (i *ICE) Configuration(userID string) (webrtc.Configuration, time.Time) {
	var servers []webrtc.ICEServer
	if len(i.cfg.StunURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: i.cfg.StunURLs})
	}

	var expires time.Time
	if len(i.cfg.URLs) > 0 && i.cfg.Secret != "" {
		expires = i.now().Add(i.cfg.TTL).UTC()
		username, credential := turnCredentials(i.cfg.Secret, userID, expires)
		servers = append(servers, webrtc.ICEServer{
			URLs:           i.cfg.URLs,
			Username:       username,
			Credential:     credential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return webrtc.Configuration{ICEServers: servers}, expires
}
