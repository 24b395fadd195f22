package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/celestix/gotgproto"
	gotgsession "github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/gotd/td/telegram/auth"
	"go.uber.org/zap"

	"tgdl/internal/apperr"
)

// pendingAuth tracks an in-progress login that hasn't yet been bound to a
// user id, keyed by a uuid session_key as SPEC_FULL §4.2 requires.
type pendingAuth struct {
	client        *gotgproto.Client
	phone         string
	phoneCodeHash string
	qrToken       []byte
	createdAt     time.Time
	expiresAt     time.Time
}

// Broker owns every live Client plus the on-disk map of which user id
// belongs to which persisted session file, matching SPEC_FULL's
// active_clients / user_sessions split.
type Broker struct {
	log *zap.Logger

	apiID   int32
	apiHash string

	mu            sync.Mutex
	activeClients map[string]*gotgprotoClient // keyed by session_key or stringified user_id
	pending       map[string]*pendingAuth
	userSessions  map[int64]string // user_id -> sessions/user-<id>.session path

	sessionDir      string
	sessionsFile    string

	groupCache *groupListCache
}

func NewBroker(log *zap.Logger, apiID int32, apiHash, sessionDir string) (*Broker, error) {
	b := &Broker{
		log:           log.Named("Upstream"),
		apiID:         apiID,
		apiHash:       apiHash,
		activeClients: make(map[string]*gotgprotoClient),
		pending:       make(map[string]*pendingAuth),
		userSessions:  make(map[int64]string),
		sessionDir:    sessionDir,
		sessionsFile:  filepath.Join(sessionDir, "user_sessions.json"),
		groupCache:    newGroupListCache(log),
	}
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	b.loadUserSessions()
	return b, nil
}

func (b *Broker) loadUserSessions() {
	data, err := os.ReadFile(b.sessionsFile)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, &b.userSessions)
}

// persistUserSessions writes the user_id -> session-path map atomically via
// temp-then-rename, the same idiom the teacher uses for its session files.
func (b *Broker) persistUserSessions() error {
	data, err := json.MarshalIndent(b.userSessions, "", "  ")
	if err != nil {
		return err
	}
	tmp := b.sessionsFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, b.sessionsFile)
}

func (b *Broker) sessionPathForUser(userID int64) string {
	return filepath.Join(b.sessionDir, fmt.Sprintf("user-%d.session", userID))
}

func (b *Broker) newClient(sessionPath string) (*gotgproto.Client, error) {
	return gotgproto.NewClient(
		int(b.apiID),
		b.apiHash,
		gotgproto.ClientTypePhone(""),
		&gotgproto.ClientOpts{
			Session:          gotgsession.SqlSession(sqlite.Open(sessionPath)),
			DisableCopyright: true,
			Middlewares:      floodMiddleware(b.log),
		},
	)
}

// StartAuth begins a phone+code login, mirroring §4.2's StartAuth operation.
func (b *Broker) StartAuth(ctx context.Context, phone string) (sessionKey, phoneCodeHash string, err error) {
	sessionKey = uuid.NewString()
	client, err := b.newClient(filepath.Join(b.sessionDir, "pending-"+sessionKey+".session"))
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindTransient, "construct pending client", err)
	}

	sent, err := client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindTransient, "send code", err)
	}
	code, ok := sent.(interface{ GetPhoneCodeHash() string })
	if !ok {
		return "", "", apperr.New(apperr.KindTransient, "unexpected SendCode response shape")
	}

	b.mu.Lock()
	b.pending[sessionKey] = &pendingAuth{
		client:        client,
		phone:         phone,
		phoneCodeHash: code.GetPhoneCodeHash(),
		createdAt:     time.Now(),
		expiresAt:     time.Now().Add(10 * time.Minute),
	}
	b.mu.Unlock()

	return sessionKey, code.GetPhoneCodeHash(), nil
}

// VerifyCode completes sign-in with the SMS/app code, signaling 2FA when
// Telegram demands it.
func (b *Broker) VerifyCode(ctx context.Context, sessionKey, code string) (requiresPassword bool, info UserInfo, err error) {
	b.mu.Lock()
	p, ok := b.pending[sessionKey]
	b.mu.Unlock()
	if !ok {
		return false, UserInfo{}, apperr.New(apperr.KindNotFound, "unknown auth session")
	}

	_, err = p.client.Auth().SignIn(ctx, p.phone, code, p.phoneCodeHash)
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return true, UserInfo{}, nil
	}
	if err != nil {
		return false, UserInfo{}, apperr.Wrap(apperr.KindInvalidInput, "verify code", err)
	}

	return false, b.finalizeAuth(sessionKey, p)
}

// VerifyPassword completes 2FA sign-in after VerifyCode signaled it's needed.
func (b *Broker) VerifyPassword(ctx context.Context, sessionKey, password string) (UserInfo, error) {
	b.mu.Lock()
	p, ok := b.pending[sessionKey]
	b.mu.Unlock()
	if !ok {
		return UserInfo{}, apperr.New(apperr.KindNotFound, "unknown auth session")
	}

	if _, err := p.client.Auth().Password(ctx, password); err != nil {
		return UserInfo{}, apperr.Wrap(apperr.KindInvalidInput, "verify password", err)
	}
	return b.finalizeAuth(sessionKey, p)
}

// finalizeAuth moves a pending client into activeClients keyed by its real
// user id and persists the session-path mapping.
func (b *Broker) finalizeAuth(sessionKey string, p *pendingAuth) (UserInfo, error) {
	self := p.client.Self
	info := UserInfo{
		UserID:    self.ID,
		Username:  self.Username,
		FirstName: self.FirstName,
		LastName:  self.LastName,
		Phone:     self.Phone,
	}

	finalPath := b.sessionPathForUser(info.UserID)
	oldPath := filepath.Join(b.sessionDir, "pending-"+sessionKey+".session")
	_ = os.Rename(oldPath, finalPath)

	b.mu.Lock()
	delete(b.pending, sessionKey)
	b.userSessions[info.UserID] = finalPath
	b.activeClients[fmt.Sprint(info.UserID)] = newGotgprotoClient(p.client, b.log)
	b.mu.Unlock()

	if err := b.persistUserSessions(); err != nil {
		b.log.Warn("failed to persist user session map", zap.Error(err))
	}
	return info, nil
}

// GetUserClient returns an active connection for userID, reconnecting from
// the persisted session blob when the process hasn't got one cached yet.
func (b *Broker) GetUserClient(ctx context.Context, userID int64) (Client, error) {
	key := fmt.Sprint(userID)

	b.mu.Lock()
	if c, ok := b.activeClients[key]; ok {
		b.mu.Unlock()
		return c, nil
	}
	path, known := b.userSessions[userID]
	b.mu.Unlock()

	if !known {
		return nil, apperr.New(apperr.KindAuthRequired, "no session for user")
	}

	client, err := b.newClient(path)
	if err != nil {
		if isAuthInvalidatedError(err) {
			b.invalidateUserSession(userID)
			return nil, apperr.Wrap(apperr.KindAuthExpired, "stored session no longer authorized", err)
		}
		return nil, apperr.Wrap(apperr.KindTransient, "reconnect from stored session", err)
	}

	wrapped := newGotgprotoClient(client, b.log)
	b.mu.Lock()
	b.activeClients[key] = wrapped
	b.mu.Unlock()
	return wrapped, nil
}

// isAuthInvalidatedError detects the MTProto error classes Telegram returns
// when a stored session blob has been revoked/logged-out server-side, the
// same textual convention gotd/td surfaces these RPC errors under.
func isAuthInvalidatedError(err error) bool {
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "AUTH_KEY_UNREGISTERED") ||
		strings.Contains(msg, "AUTH_KEY_INVALID") ||
		strings.Contains(msg, "SESSION_REVOKED") ||
		strings.Contains(msg, "USER_DEACTIVATED")
}

// invalidateUserSession drops userID's cached session path and on-disk blob
// once it's confirmed dead, per SPEC_FULL §4.2/§7's "invalidate and remove
// the stored blob" AuthExpired handling.
func (b *Broker) invalidateUserSession(userID int64) {
	b.mu.Lock()
	path, known := b.userSessions[userID]
	delete(b.userSessions, userID)
	delete(b.activeClients, fmt.Sprint(userID))
	b.mu.Unlock()

	if known {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			b.log.Warn("failed to remove invalidated session file", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	if err := b.persistUserSessions(); err != nil {
		b.log.Warn("failed to persist user session map after invalidation", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// ListGroups pages through dialogs for userID's client, skipping anything
// that isn't a normal chat; a result cached for userID is returned instead
// when present.
func (b *Broker) ListGroups(ctx context.Context, userID int64) ([]Chat, error) {
	if cached, ok := b.groupCache.Get(userID); ok {
		return cached, nil
	}

	client, err := b.GetUserClient(ctx, userID)
	if err != nil {
		return nil, err
	}
	chats, errs := client.IterDialogs(ctx)
	var out []Chat
	for c := range chats {
		if c.Type == "" {
			continue
		}
		out = append(out, c)
	}
	if err := <-errs; err != nil {
		return out, err
	}
	b.groupCache.Set(userID, out)
	return out, nil
}

// ListMessages yields a page of messages, extending the window so a
// media-group is never split across a page boundary (up to 20 extra
// messages), per SPEC_FULL §4.2.
func (b *Broker) ListMessages(ctx context.Context, userID, chatID int64, limit, offsetID int, mediaOnly bool) ([]Message, int, error) {
	client, err := b.GetUserClient(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	out, errs := client.IterChatHistory(ctx, chatID, limit, offsetID, false)
	var msgs []Message
	var lastGroup int64 = -1
	extra := 0
	for m := range out {
		if mediaOnly && !m.HasMedia() {
			continue
		}
		if len(msgs) >= limit {
			if m.MediaGroupID == 0 || m.MediaGroupID != lastGroup || extra >= 20 {
				break
			}
			extra++
		}
		msgs = append(msgs, m)
		lastGroup = m.MediaGroupID
	}
	if err := <-errs; err != nil {
		return msgs, len(msgs), err
	}
	return msgs, len(msgs), nil
}
