// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/net/publicsuffix"

	"github.com/autobrr/upbrr/internal/fsutil"
)

const (
	encryptionKeySize = 32
	blobVersion       = 1
)

// Session is one tracker's cookie jar. The Store owns it; AuthFlow borrows it for
// the duration of a probe or login while holding the tracker lock.
type Session struct {
	Tracker string
	Jar     *cookiejar.Jar
	// Fresh is false once a request showed the cookies no longer authenticate.
	Fresh bool
	// Persisted reports whether cookies were restored from disk.
	Persisted bool
	SavedAt   time.Time
}

type persistedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type blob struct {
	Version   int       `json:"version"`
	Tracker   string    `json:"tracker"`
	Fresh     bool      `json:"fresh"`
	SavedAt   time.Time `json:"saved_at"`
	Encrypted bool      `json:"encrypted"`
	Data      string    `json:"data"`
}

type Store struct {
	dir string
	key []byte
	now func() time.Time

	// Per-tracker mutex to serialize probe/login against the same site
	trackerMu map[string]*sync.Mutex
	mu        sync.Mutex
}

// NewStore keeps cookie blobs in dir. A non-empty secret enables AES-GCM encryption
// with a key derived through HKDF.
func NewStore(dir, secret string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cookies dir: %w", err)
	}

	s := &Store{
		dir:       dir,
		now:       time.Now,
		trackerMu: make(map[string]*sync.Mutex),
	}

	if secret != "" {
		key, err := deriveKey(secret)
		if err != nil {
			return nil, err
		}
		s.key = key
	}

	return s, nil
}

func deriveKey(secret string) ([]byte, error) {
	key := make([]byte, encryptionKeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("upbrr tracker cookies"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive cookie key: %w", err)
	}
	return key, nil
}

// Lock serializes all session access for one tracker. Callers must call the returned func.
func (s *Store) Lock(tracker string) func() {
	s.mu.Lock()
	m, ok := s.trackerMu[tracker]
	if !ok {
		m = &sync.Mutex{}
		s.trackerMu[tracker] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (s *Store) Path(tracker string) string {
	return filepath.Join(s.dir, strings.ToUpper(tracker)+".json")
}

// Load returns the tracker session with persisted cookies restored for base. A tracker
// without a blob gets an empty, non-persisted session.
func (s *Store) Load(tracker string, base *url.URL) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	sess := &Session{Tracker: tracker, Jar: jar}

	data, err := os.ReadFile(s.Path(tracker))
	if errors.Is(err, fs.ErrNotExist) {
		return sess, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", tracker, err)
	}

	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		log.Warn().Err(err).Str("tracker", tracker).Msg("Discarding unreadable session blob")
		return sess, nil
	}

	cookies, err := s.decode(b)
	if err != nil {
		log.Warn().Err(err).Str("tracker", tracker).Msg("Discarding session blob that cannot be decrypted")
		return sess, nil
	}

	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		httpCookies = append(httpCookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	jar.SetCookies(base, httpCookies)

	sess.Fresh = b.Fresh
	sess.Persisted = len(httpCookies) > 0
	sess.SavedAt = b.SavedAt
	return sess, nil
}

// Save persists the jar's cookies for base and marks the session fresh.
func (s *Store) Save(sess *Session, base *url.URL) error {
	var cookies []persistedCookie
	for _, c := range sess.Jar.Cookies(base) {
		cookies = append(cookies, persistedCookie{Name: c.Name, Value: c.Value})
	}

	sess.Fresh = true
	sess.SavedAt = s.now().UTC()

	b, err := s.encode(sess, cookies)
	if err != nil {
		return err
	}

	if err := fsutil.WriteJSONAtomic(s.Path(sess.Tracker), b, 0o600); err != nil {
		return fmt.Errorf("save session %s: %w", sess.Tracker, err)
	}

	log.Debug().Str("tracker", sess.Tracker).Int("cookies", len(cookies)).Msg("Saved tracker session")
	return nil
}

// Invalidate marks the persisted session stale without deleting it.
func (s *Store) Invalidate(tracker string) error {
	path := s.Path(tracker)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("invalidate session %s: %w", tracker, err)
	}
	if !b.Fresh {
		return nil
	}
	b.Fresh = false

	if err := fsutil.WriteJSONAtomic(path, b, 0o600); err != nil {
		return fmt.Errorf("invalidate session %s: %w", tracker, err)
	}
	log.Debug().Str("tracker", tracker).Msg("Marked tracker session stale")
	return nil
}

func (s *Store) encode(sess *Session, cookies []persistedCookie) (blob, error) {
	payload, err := json.Marshal(cookies)
	if err != nil {
		return blob{}, err
	}

	b := blob{
		Version: blobVersion,
		Tracker: sess.Tracker,
		Fresh:   sess.Fresh,
		SavedAt: sess.SavedAt,
	}

	if s.key == nil {
		b.Data = base64.StdEncoding.EncodeToString(payload)
		return b, nil
	}

	ciphertext, err := s.encrypt(payload)
	if err != nil {
		return blob{}, err
	}
	b.Encrypted = true
	b.Data = ciphertext
	return b, nil
}

func (s *Store) decode(b blob) ([]persistedCookie, error) {
	var payload []byte
	if b.Encrypted {
		if s.key == nil {
			return nil, errors.New("session blob is encrypted but no secret is configured")
		}
		plain, err := s.decrypt(b.Data)
		if err != nil {
			return nil, err
		}
		payload = plain
	} else {
		raw, err := base64.StdEncoding.DecodeString(b.Data)
		if err != nil {
			return nil, err
		}
		payload = raw
	}

	var cookies []persistedCookie
	if err := json.Unmarshal(payload, &cookies); err != nil {
		return nil, err
	}
	return cookies, nil
}

func (s *Store) encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *Store) decrypt(ciphertext string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(data) < gcm.NonceSize() {
		return nil, errors.New("malformed ciphertext")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
