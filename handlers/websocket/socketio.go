package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"

	"codocs/handlers/auth"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// socketEmitter adapts a Socket.IO socket to the gateway's Emitter. Emit
// errors mean the connection is already gone; teardown handles that.
type socketEmitter struct {
	socket *socketio.Socket
}

func (e socketEmitter) Emit(event string, args ...any) {
	if err := e.socket.Emit(event, args...); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"socket_id": e.socket.Id(),
			"event":     event,
		}).Debug("Failed to emit to socket")
	}
}

// handshakeToken pulls the credential out of the Socket.IO handshake.
func handshakeToken(socket *socketio.Socket) string {
	creds, ok := socket.Handshake().Auth.(map[string]any)
	if !ok {
		return ""
	}
	token, _ := creds["token"].(string)
	return token
}

// SetupSocketIO wires the gateway's lifecycle into a Socket.IO server. The
// handshake middleware authenticates before any room interaction; an expired
// credential is surfaced distinctly so the client re-authenticates instead
// of retrying.
func SetupSocketIO(gw *Gateway) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin:      []any{localhostOrigin},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	srv.Use(func(socket *socketio.Socket, next func(*socketio.ExtendedError)) {
		token := handshakeToken(socket)
		if token == "" {
			next(socketio.NewExtendedError("Authentication error: No token", nil))
			return
		}
		if _, err := auth.ParseJWT(token); err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				next(socketio.NewExtendedError("Token expired", nil))
			} else {
				next(socketio.NewExtendedError("Authentication error: Invalid token", nil))
			}
			return
		}
		next(nil)
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		// The middleware already vetted the token; parse again for the
		// user identity this connection is bound to.
		claims, err := auth.ParseJWT(handshakeToken(socket))
		if err != nil {
			socket.Disconnect(true)
			return
		}

		sess := gw.Connect(string(socket.Id()), claims.Subject, socketEmitter{socket})

		socket.On("get-document", func(datas ...any) {
			documentID, ok := firstString(datas)
			if !ok {
				sess.Emit("error", "Document id is required")
				return
			}
			gw.RequestDocument(context.Background(), sess, documentID)
		})

		socket.On("send-changes", func(datas ...any) {
			if len(datas) < 2 {
				return
			}
			delta := datas[0]
			documentID, ok := datas[1].(string)
			if !ok || documentID == "" {
				return
			}
			gw.SendChanges(sess, documentID, delta)
		})

		socket.On("save-document", func(datas ...any) {
			ack, args := extractAck(datas)
			if len(args) < 2 {
				respondSaveAck(sess, ack, errors.New("snapshot and document id are required"))
				return
			}
			documentID, ok := args[1].(string)
			if !ok || documentID == "" {
				respondSaveAck(sess, ack, errors.New("invalid document id"))
				return
			}

			snapshot, err := json.Marshal(args[0])
			if err != nil {
				respondSaveAck(sess, ack, err)
				return
			}

			respondSaveAck(sess, ack, gw.SaveDocument(context.Background(), sess, documentID, snapshot))
		})

		socket.On("disconnecting", func(datas ...any) {
			gw.Disconnect(sess)
		})

		socket.On("disconnect", func(datas ...any) {
			gw.Disconnect(sess)
			socket.RemoveAllListeners("")
		})
	})

	return srv
}

func firstString(datas []any) (string, bool) {
	if len(datas) == 0 {
		return "", false
	}
	s, ok := datas[0].(string)
	return s, ok && s != ""
}

func respondSaveAck(sess *Session, ack ackInvoker, err error) {
	if err != nil {
		if ack != nil {
			ack(err, "error")
		}
		sess.Emit("error", "Could not save document")
		return
	}
	if ack != nil {
		ack(nil, "saved")
	}
}
