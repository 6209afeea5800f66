package zabbix

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	pkgzabbix "systemstats/pkg/zabbix"
)

const (
	senderDataLen   = 8
	maxResponseSize = 1024 * 1024
)

// Sender реализует Zabbix Sender протокол
type Sender struct {
	serverHost string
	serverPort int
	timeout    time.Duration
	logger     *zap.Logger
}

// NewSender создает новый Zabbix Sender
func NewSender(serverHost string, serverPort int, timeout time.Duration, logger *zap.Logger) *Sender {
	return &Sender{
		serverHost: serverHost,
		serverPort: serverPort,
		timeout:    timeout,
		logger:     logger,
	}
}

// Address возвращает адрес сервера
func (s *Sender) Address() string {
	return net.JoinHostPort(s.serverHost, strconv.Itoa(s.serverPort))
}

// SendData отправляет данные через Zabbix Sender протокол
func (s *Sender) SendData(ctx context.Context, data []pkgzabbix.SenderData) (pkgzabbix.SenderResponse, error) {
	if len(data) == 0 {
		return pkgzabbix.SenderResponse{}, nil
	}

	s.logger.Debug("Sending data via Zabbix Sender",
		zap.String("address", s.Address()),
		zap.Int("items", len(data)))

	request := pkgzabbix.SenderRequest{
		Request: "sender data",
		Data:    data,
		Clock:   time.Now().Unix(),
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return pkgzabbix.SenderResponse{}, fmt.Errorf("failed to marshal sender request: %w", err)
	}

	response, err := s.sendPacket(ctx, buildPacket(jsonData))
	if err != nil {
		return pkgzabbix.SenderResponse{}, fmt.Errorf("failed to send packet: %w", err)
	}

	var senderResp pkgzabbix.SenderResponse
	if err := json.Unmarshal(response, &senderResp); err != nil {
		return pkgzabbix.SenderResponse{}, fmt.Errorf("failed to parse sender response: %w", err)
	}

	if senderResp.Response != "success" {
		return senderResp, fmt.Errorf("zabbix sender error: %s", senderResp.Info)
	}

	s.logger.Debug("Successfully sent data via Zabbix Sender",
		zap.String("info", senderResp.Info))

	return senderResp, nil
}

// buildPacket: заголовок + длина данных (little-endian uint64) + данные
func buildPacket(data []byte) []byte {
	packet := make([]byte, 0, len(pkgzabbix.Header)+senderDataLen+len(data))
	packet = append(packet, pkgzabbix.Header...)
	packet = binary.LittleEndian.AppendUint64(packet, uint64(len(data)))
	return append(packet, data...)
}

func (s *Sender) sendPacket(ctx context.Context, packet []byte) ([]byte, error) {
	dialer := &net.Dialer{Timeout: s.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", s.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zabbix server: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}

	if _, err := conn.Write(packet); err != nil {
		return nil, fmt.Errorf("failed to write packet: %w", err)
	}

	response, err := readResponse(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return response, nil
}

func readResponse(r io.Reader) ([]byte, error) {
	header := make([]byte, len(pkgzabbix.Header))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	if !bytes.Equal(header, []byte(pkgzabbix.Header)) {
		return nil, fmt.Errorf("invalid response header: %q", header)
	}

	lenBytes := make([]byte, senderDataLen)
	if _, err := io.ReadFull(r, lenBytes); err != nil {
		return nil, fmt.Errorf("failed to read data length: %w", err)
	}

	dataLen := binary.LittleEndian.Uint64(lenBytes)
	if dataLen > maxResponseSize {
		return nil, fmt.Errorf("response data too large: %d bytes", dataLen)
	}

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read response data: %w", err)
	}

	return data, nil
}
