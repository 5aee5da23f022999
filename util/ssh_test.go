// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

func startConsole(t *testing.T, c *Console) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")

	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- c.Serve(ctx, l)
	}()

	t.Cleanup(func() {
		cancel()

		if err := <-done; err != nil {
			t.Errorf("Serve() = %v", err)
		}
	})

	return l.Addr().String()
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)

	if err != nil {
		t.Fatal(err)
	}

	signer, err := ssh.NewSignerFromKey(key)

	if err != nil {
		t.Fatal(err)
	}

	return signer
}

func TestConsoleCommand(t *testing.T) {
	cmds := make(chan string, 1)

	c := &Console{
		Banner: "test console",
		Handler: func(_ *term.Terminal, cmd string) error {
			cmds <- cmd
			return nil
		},
	}

	addr := startConsole(t, c)

	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "kloader",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})

	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}

	defer client.Close()

	session, err := client.NewSession()

	if err != nil {
		t.Fatalf("NewSession() = %v", err)
	}

	defer session.Close()

	stdin, err := session.StdinPipe()

	if err != nil {
		t.Fatal(err)
	}

	if err = session.Shell(); err != nil {
		t.Fatalf("Shell() = %v", err)
	}

	if _, err = stdin.Write([]byte("status\r")); err != nil {
		t.Fatal(err)
	}

	select {
	case cmd := <-cmds:
		if cmd != "status" {
			t.Errorf("Handler() got %q, want %q", cmd, "status")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Handler() not invoked")
	}
}

func TestConsoleAuthorizedKeys(t *testing.T) {
	allowed := newSigner(t)
	denied := newSigner(t)

	path := filepath.Join(t.TempDir(), "authorized_keys")

	if err := os.WriteFile(path, ssh.MarshalAuthorizedKey(allowed.PublicKey()), 0600); err != nil {
		t.Fatal(err)
	}

	keys, err := LoadAuthorizedKeys(path)

	if err != nil || len(keys) != 1 {
		t.Fatalf("LoadAuthorizedKeys() = %v, %v", keys, err)
	}

	addr := startConsole(t, &Console{
		Handler:        func(*term.Terminal, string) error { return nil },
		AuthorizedKeys: keys,
	})

	dial := func(s ssh.Signer) error {
		client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
			User:            "kloader",
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(s)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         5 * time.Second,
		})

		if err == nil {
			client.Close()
		}

		return err
	}

	if err := dial(allowed); err != nil {
		t.Errorf("Dial() with authorized key = %v", err)
	}

	if err := dial(denied); err == nil {
		t.Errorf("Dial() with unknown key = nil")
	}
}
