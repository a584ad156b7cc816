package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/totegamma/cozykost/client"
	"github.com/totegamma/cozykost/collection"
	"github.com/totegamma/cozykost/internal/logging"
)

var errNotLoggedIn = errors.New("not logged in: run `cozykost login` first")

type app struct {
	client      *client.Client
	collections *collection.Collection
	logger      *slog.Logger
	sessionFile string
	stopPersist func()
}

func resolveSessionPath() (string, error) {
	if sessionPath != "" {
		return sessionPath, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cozykost", "session.json"), nil
}

func loadSession(path string) (client.Session, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return client.Session{}, nil
	}
	if err != nil {
		return client.Session{}, err
	}

	var session client.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return client.Session{}, fmt.Errorf("corrupt session file %s: %w", path, err)
	}
	return session, nil
}

func saveSession(path string, session client.Session) error {
	if session.Token == "" {
		err := os.Remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// newApp restores the saved session and wires a collection onto the client.
// Sign ins and sign outs are written back to the session file.
func newApp() (*app, error) {
	logger := logging.New(os.Stderr, logLevel, "text")

	path, err := resolveSessionPath()
	if err != nil {
		return nil, err
	}
	session, err := loadSession(path)
	if err != nil {
		return nil, err
	}

	c := client.New(serverURL,
		client.WithSession(session),
		client.WithLogger(logger),
		client.WithUserAgent("cozykost-cli/"+version),
	)

	a := &app{
		client:      c,
		collections: collection.New(c, c, collection.WithLogger(logger)),
		logger:      logger,
		sessionFile: path,
	}
	a.stopPersist = c.OnAuthChange(func(userID string, ok bool) {
		current, _ := c.Session()
		if err := saveSession(a.sessionFile, current); err != nil {
			logger.Warn("failed to persist session",
				slog.String("error", err.Error()),
				slog.String("module", "cli"),
			)
		}
	})
	return a, nil
}

func (a *app) Close() {
	a.stopPersist()
	a.collections.Close()
}

func (a *app) user() (string, error) {
	uid, ok := a.client.CurrentUserID()
	if !ok {
		return "", errNotLoggedIn
	}
	return uid, nil
}
