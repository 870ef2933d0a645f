package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/codesynq/collab.go/internal/testenv"
	"github.com/codesynq/collab.go/pkg/bus"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/codesynq/collab.go/pkg/relay/server"
	"github.com/codesynq/collab.go/pkg/session"
	"github.com/codesynq/collab.go/pkg/transport/gorillaws"
)

type ServerTestSuite struct {
	suite.Suite
	srv *server.Server
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupTest() {
	s.srv = testenv.StartRelay(s.T(), nil)
}

type participant struct {
	session *session.Session
	buf     *session.Buffer
	conn    *gorillaws.Connection
}

func (s *ServerTestSuite) participant(id string) *participant {
	router := bus.NewRouter(nil)
	conn := testenv.Dial(s.T(), s.srv, router)
	buf := session.NewBuffer("", "javascript")
	sess := session.New(conn, router, buf, session.Config{
		Identity: &protocol.Identity{UID: id, DisplayName: id},
		Logger:   testenv.Logger(s.T()),
	})
	buf.OnChange(func() { _ = sess.LocalChange(context.Background()) })
	return &participant{session: sess, buf: buf, conn: conn}
}

func (s *ServerTestSuite) eventually(cond func() bool, msg string) {
	s.Require().Eventually(cond, 5*time.Second, 10*time.Millisecond, msg)
}

func (s *ServerTestSuite) getJSON(path string, v any) int {
	url := fmt.Sprintf("http://%s%s", s.srv.Address(), path)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	s.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	if v != nil {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func (s *ServerTestSuite) TestHealth() {
	var body map[string]string
	s.Equal(http.StatusOK, s.getJSON("/health", &body))
	s.Equal("ok", body["status"])
}

func (s *ServerTestSuite) TestStatusCountsRoomsAndClients() {
	host := s.participant("host")
	_, err := host.session.Create(context.Background(), protocol.Freestyle)
	s.Require().NoError(err)

	var body struct {
		Rooms       int `json:"rooms"`
		Clients     int `json:"clients"`
		Connections int `json:"connections"`
	}
	s.eventually(func() bool {
		s.getJSON("/status", &body)
		return body.Rooms == 1
	}, "room was not created")
	s.Equal(1, body.Clients)
	s.Equal(1, body.Connections)
}

func (s *ServerTestSuite) TestMethodNotAllowed() {
	url := fmt.Sprintf("http://%s/health", s.srv.Address())
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, http.NoBody)
	s.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusMethodNotAllowed, resp.StatusCode)
}

func (s *ServerTestSuite) TestRestrictedSessionOverWebSocket() {
	ctx := context.Background()
	host := s.participant("host")
	host.buf.SetText("let a = 1")

	roomID, err := host.session.Create(ctx, protocol.Restricted)
	s.Require().NoError(err)

	guest := s.participant("guest")
	s.Require().NoError(guest.session.Join(ctx, roomID))
	s.eventually(func() bool { return guest.buf.Text() == "let a = 1" }, "guest did not receive the room text")
	s.eventually(func() bool { return len(host.session.State().Members) == 2 }, "host did not see the guest")
	s.False(guest.session.State().Writable())

	s.Require().NoError(guest.session.RequestEdit(ctx))
	s.eventually(func() bool {
		_, ok := host.session.State().PendingFrom("guest")
		return ok
	}, "host did not receive the edit request")

	s.Require().NoError(host.session.Approve(ctx, "guest"))
	s.eventually(func() bool { return guest.session.State().Writable() }, "guest was not granted authority")
	s.False(host.session.State().Writable())

	s.Require().True(guest.buf.Replace("let a = 2"))
	s.eventually(func() bool { return host.buf.Text() == "let a = 2" }, "host did not receive the edit")

	room, err := s.srv.Relay().Room(ctx, roomID)
	s.Require().NoError(err)
	s.Equal("guest", room.CurrentEditor)
	s.Equal("let a = 2", room.Code)
}

func (s *ServerTestSuite) TestDisconnectLeavesRoom() {
	ctx := context.Background()
	host := s.participant("host")
	roomID, err := host.session.Create(ctx, protocol.Freestyle)
	s.Require().NoError(err)

	guest := s.participant("guest")
	s.Require().NoError(guest.session.Join(ctx, roomID))
	s.eventually(func() bool { return len(host.session.State().Members) == 2 }, "guest never joined")

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	s.Require().NoError(guest.conn.Close(closeCtx))
	s.eventually(func() bool { return len(host.session.State().Members) == 1 }, "guest was not removed")
}
