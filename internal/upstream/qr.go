package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"time"

	"github.com/celestix/gotgproto"
	gotgsession "github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/gotd/td/tg"
	"github.com/mdp/qrterminal"
	"rsc.io/qr"

	"tgdl/internal/apperr"
)

const qrLoginTTL = 2 * time.Minute

// StartQRLogin exports a login token and returns both the raw token bytes
// (rendered by the caller as PNG or terminal QR per §4.2) and a session key
// used to poll CheckQRStatus.
func (b *Broker) StartQRLogin(ctx context.Context) (sessionKey string, qrToken []byte, expires time.Time, err error) {
	sessionKey = uuid.NewString()
	client, err := b.newClient(filepath.Join(b.sessionDir, "pending-"+sessionKey+".session"))
	if err != nil {
		return "", nil, time.Time{}, apperr.Wrap(apperr.KindTransient, "construct pending client", err)
	}

	token, err := exportLoginToken(ctx, client, b.apiID, b.apiHash)
	if err != nil {
		return "", nil, time.Time{}, apperr.Wrap(apperr.KindTransient, "export login token", err)
	}

	expiresAt := time.Now().Add(qrLoginTTL)
	b.mu.Lock()
	b.pending[sessionKey] = &pendingAuth{
		client:    client,
		qrToken:   token,
		createdAt: time.Now(),
		expiresAt: expiresAt,
	}
	b.mu.Unlock()

	return sessionKey, token, expiresAt, nil
}

func exportLoginToken(ctx context.Context, client *gotgproto.Client, apiID int32, apiHash string) ([]byte, error) {
	res, err := client.API().AuthExportLoginToken(ctx, &tg.AuthExportLoginTokenRequest{
		APIID:   int(apiID),
		APIHash: apiHash,
	})
	if err != nil {
		return nil, err
	}
	switch t := res.(type) {
	case *tg.AuthLoginToken:
		return t.Token, nil
	case *tg.AuthLoginTokenMigrateTo:
		return t.Token, nil
	default:
		return nil, fmt.Errorf("unexpected ExportLoginToken response %T", res)
	}
}

// CheckQRStatus polls for completion by re-invoking ExportLoginToken. This
// poll is the only completion path: no raw updateLoginToken handler is
// registered.
func (b *Broker) CheckQRStatus(ctx context.Context, sessionKey string) (authenticated, expired bool, info UserInfo, err error) {
	b.mu.Lock()
	p, ok := b.pending[sessionKey]
	b.mu.Unlock()
	if !ok {
		return false, true, UserInfo{}, apperr.New(apperr.KindNotFound, "unknown qr session")
	}
	if time.Now().After(p.expiresAt) {
		return false, true, UserInfo{}, nil
	}

	res, err := pollLoginToken(ctx, p.client, b.apiID, b.apiHash)
	if err != nil {
		return false, false, UserInfo{}, apperr.Wrap(apperr.KindTransient, "poll qr status", err)
	}

	switch res.(type) {
	case *tg.AuthLoginTokenSuccess:
		info, err := b.finalizeAuth(sessionKey, p)
		return err == nil, false, info, err
	default:
		return false, false, UserInfo{}, nil
	}
}

func pollLoginToken(ctx context.Context, client *gotgproto.Client, apiID int32, apiHash string) (tg.AuthLoginTokenClass, error) {
	return client.API().AuthExportLoginToken(ctx, &tg.AuthExportLoginTokenRequest{
		APIID:   int(apiID),
		APIHash: apiHash,
	})
}

// RenderQRPNG renders token as PNG bytes for the HTTP API, per §4.2.
func RenderQRPNG(token []byte) ([]byte, error) {
	code, err := qr.Encode("tg://login?token="+qrTokenBase64(token), qr.L)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return code.PNG(), nil
}

// WriteQRTerminal writes a scannable terminal QR for the `tgdl qrlogin` CLI
// command, rendered with github.com/mdp/qrterminal.
func WriteQRTerminal(w interface {
	Write([]byte) (int, error)
}, token []byte) {
	qrterminal.Generate("tg://login?token="+qrTokenBase64(token), qrterminal.L, w)
}

func qrTokenBase64(token []byte) string {
	return base64.RawURLEncoding.EncodeToString(token)
}
