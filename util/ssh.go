// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// Console represents an SSH console instance.
type Console struct {
	// Banner is the login welcome banner
	Banner string
	// Help is the `help` command output
	Help func(*term.Terminal) string
	// Handler is the terminal command handler
	Handler func(*term.Terminal, string) error
	// Session, when set, is invoked with each new session terminal and
	// with nil once it is closed
	Session func(*term.Terminal)
	// AuthorizedKeys restricts client public keys, when empty any client
	// is accepted
	AuthorizedKeys []ssh.PublicKey
}

// LoadAuthorizedKeys parses an OpenSSH authorized_keys file.
func LoadAuthorizedKeys(path string) (keys []ssh.PublicKey, err error) {
	buf, err := os.ReadFile(path)

	if err != nil {
		return
	}

	for len(bytes.TrimSpace(buf)) > 0 {
		var key ssh.PublicKey

		if key, _, _, buf, err = ssh.ParseAuthorizedKey(buf); err != nil {
			return nil, fmt.Errorf("could not parse %s, %w", path, err)
		}

		keys = append(keys, key)
	}

	return
}

func (c *Console) publicKeyCallback(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	for _, k := range c.AuthorizedKeys {
		if bytes.Equal(k.Marshal(), key.Marshal()) {
			return nil, nil
		}
	}

	return nil, fmt.Errorf("unknown public key for %s", conn.User())
}

func (c *Console) handleChannel(newChannel ssh.NewChannel) {
	if t := newChannel.ChannelType(); t != "session" {
		_ = newChannel.Reject(ssh.UnknownChannelType, fmt.Sprintf("unknown channel type: %s", t))
		return
	}

	conn, requests, err := newChannel.Accept()

	if err != nil {
		log.Printf("error accepting channel, %v", err)
		return
	}

	t := term.NewTerminal(conn, "")
	t.SetPrompt(string(t.Escape.Red) + "> " + string(t.Escape.Reset))

	go func() {
		defer conn.Close()

		if c.Session != nil {
			c.Session(t)
			defer c.Session(nil)
		}

		fmt.Fprintf(t, "%s\n", c.Banner)

		if c.Help != nil {
			fmt.Fprintf(t, "%s\n", string(t.Escape.Cyan)+c.Help(t)+string(t.Escape.Reset))
		}

		for {
			cmd, err := t.ReadLine()

			if err == io.EOF {
				break
			}

			if err != nil {
				log.Printf("readline error: %v", err)
				continue
			}

			err = c.Handler(t, cmd)

			if err == io.EOF {
				break
			}

			if err != nil {
				fmt.Fprintf(t, "error: %v\n", err)
			}
		}

		log.Printf("closing ssh connection")
	}()

	go func() {
		for req := range requests {
			reqSize := len(req.Payload)

			switch req.Type {
			case "shell":
				// do not accept payload commands
				if len(req.Payload) == 0 {
					_ = req.Reply(true, nil)
				}
			case "pty-req":
				// p10, 6.2.  Requesting a Pseudo-Terminal, RFC4254
				if reqSize < 4 {
					log.Printf("malformed pty-req request")
					continue
				}

				termVariableSize := int(req.Payload[3])

				if reqSize < 4+termVariableSize+8 {
					log.Printf("malformed pty-req request")
					continue
				}

				w := binary.BigEndian.Uint32(req.Payload[4+termVariableSize:])
				h := binary.BigEndian.Uint32(req.Payload[4+termVariableSize+4:])

				_ = t.SetSize(int(w), int(h))
				_ = req.Reply(true, nil)
			case "window-change":
				// p10, 6.7.  Window Dimension Change Message, RFC4254
				if reqSize < 8 {
					log.Printf("malformed window-change request")
					continue
				}

				w := binary.BigEndian.Uint32(req.Payload)
				h := binary.BigEndian.Uint32(req.Payload[4:])

				_ = t.SetSize(int(w), int(h))
			default:
				if req.WantReply {
					_ = req.Reply(false, nil)
				}
			}
		}
	}()
}

func (c *Console) handleChannels(chans <-chan ssh.NewChannel) {
	for newChannel := range chans {
		go c.handleChannel(newChannel)
	}
}

func (c *Console) config() (srv *ssh.ServerConfig, err error) {
	srv = &ssh.ServerConfig{}

	if len(c.AuthorizedKeys) == 0 {
		srv.NoClientAuth = true
	} else {
		srv.PublicKeyCallback = c.publicKeyCallback
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	if err != nil {
		return nil, fmt.Errorf("private key generation error: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(key)

	if err != nil {
		return nil, fmt.Errorf("key conversion error: %w", err)
	}

	log.Printf("starting ssh server (%s)", ssh.FingerprintSHA256(signer.PublicKey()))

	srv.AddHostKey(signer)

	return
}

// Serve runs an SSH console on the given listener until ctx is done.
func (c *Console) Serve(ctx context.Context, listener net.Listener) (err error) {
	srv, err := c.config()

	if err != nil {
		return
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()

		if errors.Is(err, net.ErrClosed) {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		if err != nil {
			log.Printf("error accepting connection, %v", err)
			continue
		}

		go func() {
			sshConn, chans, reqs, err := ssh.NewServerConn(conn, srv)

			if err != nil {
				log.Printf("error accepting handshake, %v", err)
				return
			}

			log.Printf("new ssh connection from %s (%s)", sshConn.RemoteAddr(), sshConn.ClientVersion())

			go ssh.DiscardRequests(reqs)
			c.handleChannels(chans)
		}()
	}
}
