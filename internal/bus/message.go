package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	FileDeleteQueue  = "filevault-file-delete-queue"
	StoreDeleteQueue = "filevault-store-delete-queue"

	messageVersion = 1

	deleteFileName      = "delete-file"
	deleteFromStoreName = "delete-from-store"
)

var (
	ErrUnknownMessage  = errors.New("unknown message")
	ErrRoutingMismatch = errors.New("message does not belong to queue")
	ErrClosed          = errors.New("bus is closed")
)

// Message - сообщение шины. Queue определяет очередь, в которую оно публикуется.
type Message interface {
	MessageName() string
	Queue() string
}

// Header - общие поля всех сообщений на проводе
type Header struct {
	Version        int       `json:"version"`
	Name           string    `json:"name"`
	DateCreatedUTC time.Time `json:"dateCreatedUtc"`
}

func newHeader(name string) Header {
	return Header{
		Version:        messageVersion,
		Name:           name,
		DateCreatedUTC: time.Now().UTC(),
	}
}

// DeleteFileVersionMessage просит удалить версию файла вместе с содержимым
type DeleteFileVersionMessage struct {
	Header
	Container string    `json:"container"`
	FileID    uuid.UUID `json:"fileId"`
	VersionID uuid.UUID `json:"versionId"`
}

func NewDeleteFileVersionMessage(container string, fileID, versionID uuid.UUID) *DeleteFileVersionMessage {
	return &DeleteFileVersionMessage{
		Header:    newHeader(deleteFileName),
		Container: container,
		FileID:    fileID,
		VersionID: versionID,
	}
}

func (m *DeleteFileVersionMessage) MessageName() string { return deleteFileName }
func (m *DeleteFileVersionMessage) Queue() string       { return FileDeleteQueue }

// DeleteFromStoreMessage просит удалить содержимое из хранилища
type DeleteFromStoreMessage struct {
	Header
	StoreName string    `json:"storeName"`
	ID        uuid.UUID `json:"id"`
}

func NewDeleteFromStoreMessage(storeName string, id uuid.UUID) *DeleteFromStoreMessage {
	return &DeleteFromStoreMessage{
		Header:    newHeader(deleteFromStoreName),
		StoreName: storeName,
		ID:        id,
	}
}

func (m *DeleteFromStoreMessage) MessageName() string { return deleteFromStoreName }
func (m *DeleteFromStoreMessage) Queue() string       { return StoreDeleteQueue }

// Encode сериализует сообщение в JSON
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.MessageName(), err)
	}
	return data, nil
}

// Decode восстанавливает сообщение по полю name
func Decode(data []byte) (Message, error) {
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("failed to decode message header: %w", err)
	}

	var msg Message
	switch header.Name {
	case deleteFileName:
		msg = &DeleteFileVersionMessage{}
	case deleteFromStoreName:
		msg = &DeleteFromStoreMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, header.Name)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to decode %s message: %w", header.Name, err)
	}
	return msg, nil
}
