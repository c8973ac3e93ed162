package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"chat-relay/internal/domain"
)

type cliConfig struct {
	RelayURL string `env:"RELAY_URL" envDefault:"ws://localhost:8000/ws"`
	Origin   string `env:"CLIENT_URI" envDefault:"http://localhost:5173"`
	Username string `env:"CHAT_USERNAME"`
}

func main() {
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	var cfg cliConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	username := strings.TrimSpace(cfg.Username)
	for username == "" {
		fmt.Print("Nombre de usuario: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			log.Fatal(err)
		}
		username = strings.TrimSpace(line)
	}

	client, err := dial(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("conectar: %v", err)
	}
	defer client.close()

	go client.readLoop(os.Stdout)

	if err := client.send(domain.EventSetUsername, username); err != nil {
		log.Fatalf("set-username: %v", err)
	}

	fmt.Println("---- Chat (escribe '/ayuda' para ver comandos, 'salir' para terminar) ----")
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			fmt.Println("Conexion cerrada por el servidor.")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd := parseCommand(line)
			if cmd.quit {
				return
			}
			if cmd.help {
				printHelp()
				continue
			}
			if cmd.event == "" {
				continue
			}
			payload := cmd.payload(username)
			if err := client.send(cmd.event, payload); err != nil {
				fmt.Printf("Error enviando %s: %v\n", cmd.event, err)
				continue
			}
			username = cmd.nextUsername(username)
		}
	}
}

// command es una linea de entrada ya interpretada.
type command struct {
	event string
	arg   string
	quit  bool
	help  bool
}

func (c command) payload(username string) any {
	switch c.event {
	case domain.EventSendMessage:
		return domain.NewMessageInput{Username: username, Content: c.arg}
	case domain.EventMarkAsSeen:
		return domain.SeenReceipt{MessageID: c.arg, Username: username}
	case domain.EventSetUsername:
		return c.arg
	default:
		return username
	}
}

// nextUsername es el nombre ligado tras enviar el comando.
func (c command) nextUsername(current string) string {
	if c.event == domain.EventSetUsername && c.arg != "" {
		return c.arg
	}
	return current
}

func parseCommand(line string) command {
	text := strings.TrimSpace(line)
	if text == "" {
		return command{}
	}
	if strings.EqualFold(text, "salir") || text == "/salir" {
		return command{quit: true}
	}
	if !strings.HasPrefix(text, "/") {
		return command{event: domain.EventSendMessage, arg: text}
	}

	name, arg, _ := strings.Cut(text[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "visto":
		if arg == "" {
			return command{help: true}
		}
		return command{event: domain.EventMarkAsSeen, arg: arg}
	case "nombre":
		if arg == "" {
			return command{help: true}
		}
		return command{event: domain.EventSetUsername, arg: arg}
	case "escribiendo":
		return command{event: domain.EventTyping}
	default:
		return command{help: true}
	}
}

func printHelp() {
	fmt.Println("Comandos:")
	fmt.Println("  <texto>          envia un mensaje")
	fmt.Println("  /visto <id>      marca un mensaje como visto")
	fmt.Println("  /nombre <nuevo>  cambia tu nombre")
	fmt.Println("  /escribiendo     avisa que estas escribiendo")
	fmt.Println("  salir            termina el chat")
}

type relayClient struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
	done   chan struct{}
}

func dial(ctx context.Context, cfg cliConfig, logger *zap.Logger) (*relayClient, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	headers := http.Header{}
	headers.Set("Origin", cfg.Origin)
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, cfg.RelayURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &relayClient{conn: conn, logger: logger, done: make(chan struct{})}, nil
}

func (c *relayClient) send(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(domain.Envelope{Event: event, Data: raw})
}

func (c *relayClient) readLoop(out io.Writer) {
	defer close(c.done)
	for {
		var frame domain.Envelope
		if err := c.conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, net.ErrClosed) {
				c.logger.Debug("read loop finished", zap.Error(err))
			}
			return
		}
		if line := formatEvent(frame); line != "" {
			fmt.Fprintln(out, line)
		}
	}
}

func (c *relayClient) close() {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	_ = c.conn.Close()
}

// formatEvent traduce un frame del servidor a una linea para la terminal.
func formatEvent(frame domain.Envelope) string {
	switch frame.Event {
	case domain.EventNewMessage:
		var msg domain.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return ""
		}
		return fmt.Sprintf("[%s] %s: %s  (id %s)", msg.Timestamp.Local().Format("15:04:05"), msg.Username, msg.Content, msg.ID)
	case domain.EventTyping:
		var name string
		if err := json.Unmarshal(frame.Data, &name); err != nil || name == "" {
			return ""
		}
		return fmt.Sprintf("... %s esta escribiendo", name)
	case domain.EventOnlineUsers:
		var users []string
		if err := json.Unmarshal(frame.Data, &users); err != nil {
			return ""
		}
		if len(users) == 0 {
			return "En linea: (nadie)"
		}
		return "En linea: " + strings.Join(users, ", ")
	case domain.EventMessageSeen:
		var receipt domain.SeenReceipt
		if err := json.Unmarshal(frame.Data, &receipt); err != nil {
			return ""
		}
		return fmt.Sprintf("%s vio el mensaje %s", receipt.Username, receipt.MessageID)
	case domain.EventError:
		var payload domain.ErrorPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return ""
		}
		return fmt.Sprintf("Error (%s): %s", payload.Event, payload.Error)
	default:
		return ""
	}
}
