// Package audit writes the append-only experiment record. Appends are
// best-effort: failures are logged and never surfaced to the client protocol.
package audit

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Row is one record: the cells following the room-id column.
type Row []string

// Sink is the append-only audit record consumed by the orchestrator.
type Sink interface {
	// Open starts a new record for the given room id.
	Open(roomID string)
	// Append records one row, best-effort.
	Append(row Row)
}

var header = Row{
	"房间ID", "时间戳", "序号", "发言者类型", "编号", "用户ID", "说话内容",
	"最终Willingness", "Persona分数", "Scene分数", "Topic分数",
	"是否触发插话", "Agent策略", "Agent插话内容", "Agent编号",
}

// CSVSink appends rows to one CSV file per ended experiment, with a UTF-8 BOM
// so spreadsheet tools pick up the Chinese headers.
type CSVSink struct {
	dir string

	mu     sync.Mutex
	roomID string
	file   *os.File
	writer *csv.Writer
}

// NewCSVSink creates the sink rooted at dir. The file itself is created
// lazily by Open, once a room id is known.
func NewCSVSink(dir string) *CSVSink {
	return &CSVSink{dir: dir}
}

// Open creates the record file for roomID, closing any previous one.
func (s *CSVSink) Open(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		log.Printf("[audit] create dir failed: %v", err)
		return
	}

	name := fmt.Sprintf("experiment_%s_%s.csv", roomID, time.Now().Format("20060102_150405"))
	path := filepath.Join(s.dir, name)
	file, err := os.Create(path)
	if err != nil {
		log.Printf("[audit] create file failed: %v", err)
		return
	}
	if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		log.Printf("[audit] write BOM failed: %v", err)
	}

	s.roomID = roomID
	s.file = file
	s.writer = csv.NewWriter(file)

	if err := s.writer.Write(header); err != nil {
		log.Printf("[audit] write header failed: %v", err)
	}
	s.appendLocked(Row{
		time.Now().Format("2006-01-02 15:04:05"),
		"ROOM_INFO", "房间信息", "", "system",
		fmt.Sprintf("实验房间ID: %s", roomID),
		"", "", "", "", "", "", "", "",
	})
	s.writer.Flush()
	log.Printf("[audit] record created: %s (room=%s)", path, roomID)
}

// Append records one row. A sink that was never opened drops rows silently,
// matching the original's pre-end behavior.
func (s *CSVSink) Append(row Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return
	}
	s.appendLocked(row)
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		log.Printf("[audit] append failed: %v", err)
	}
}

func (s *CSVSink) appendLocked(row Row) {
	cells := append(Row{s.roomID}, row...)
	// Pad to the header width so every row has the same shape.
	for len(cells) < len(header) {
		cells = append(cells, "")
	}
	if err := s.writer.Write(cells); err != nil {
		log.Printf("[audit] write row failed: %v", err)
	}
}

// Close flushes and closes the current record file.
func (s *CSVSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *CSVSink) closeLocked() {
	if s.writer != nil {
		s.writer.Flush()
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			log.Printf("[audit] close failed: %v", err)
		}
	}
	s.writer = nil
	s.file = nil
	s.roomID = ""
}

// NopSink drops every row; used when auditing is disabled and in tests.
type NopSink struct{}

func (NopSink) Open(string) {}
func (NopSink) Append(Row)  {}
