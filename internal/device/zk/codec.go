package zk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"sentrygate/internal/model"
)

// packet is one protocol frame. On the wire it is a little-endian magic
// prefix, a 32-bit payload length, then command, checksum, session id,
// reply id and the data bytes.
type packet struct {
	Command   uint16
	SessionID uint16
	ReplyID   uint16
	Data      []byte
}

// checksum is the ones-complement sum of the payload taken as 16-bit
// little-endian words, with the checksum field itself zeroed. An odd
// trailing byte counts as a low byte.
func checksum(payload []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(payload); i += 2 {
		sum += uint32(binary.LittleEndian.Uint16(payload[i : i+2]))
	}
	if len(payload)%2 == 1 {
		sum += uint32(payload[len(payload)-1])
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// encodePacket serializes a frame, computing its checksum.
func encodePacket(p packet) []byte {
	payload := make([]byte, 8+len(p.Data))
	binary.LittleEndian.PutUint16(payload[0:2], p.Command)
	binary.LittleEndian.PutUint16(payload[4:6], p.SessionID)
	binary.LittleEndian.PutUint16(payload[6:8], p.ReplyID)
	copy(payload[8:], p.Data)
	binary.LittleEndian.PutUint16(payload[2:4], checksum(payload))

	frame := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], tcpMagic)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[8:], payload)
	return frame
}

// readPacket reads and verifies one frame from the stream.
func readPacket(r io.Reader) (packet, error) {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return packet{}, err
	}
	if magic := binary.LittleEndian.Uint32(head[0:4]); magic != tcpMagic {
		return packet{}, fmt.Errorf("bad packet magic 0x%08x", magic)
	}
	size := binary.LittleEndian.Uint32(head[4:8])
	if size < 8 || size > maxPacketSize {
		return packet{}, fmt.Errorf("bad packet size %d", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return packet{}, err
	}

	want := binary.LittleEndian.Uint16(payload[2:4])
	binary.LittleEndian.PutUint16(payload[2:4], 0)
	if got := checksum(payload); got != want {
		return packet{}, fmt.Errorf("packet checksum mismatch: got 0x%04x want 0x%04x", got, want)
	}

	return packet{
		Command:   binary.LittleEndian.Uint16(payload[0:2]),
		SessionID: binary.LittleEndian.Uint16(payload[4:6]),
		ReplyID:   binary.LittleEndian.Uint16(payload[6:8]),
		Data:      payload[8:],
	}, nil
}

// encodeTime packs a timestamp into the terminal's compact 32-bit calendar
// encoding.
func encodeTime(t time.Time) uint32 {
	days := uint32(t.Year()-2000)*12*31 + uint32(t.Month()-1)*31 + uint32(t.Day()-1)
	return days*86400 + uint32(t.Hour())*3600 + uint32(t.Minute())*60 + uint32(t.Second())
}

// decodeTime is the inverse of encodeTime. The terminal has no zone
// awareness, so the result is in local time.
func decodeTime(v uint32) time.Time {
	sec := int(v % 60)
	v /= 60
	min := int(v % 60)
	v /= 60
	hour := int(v % 24)
	v /= 24
	day := int(v%31) + 1
	v /= 31
	month := time.Month(v%12) + 1
	v /= 12
	year := int(v) + 2000
	return time.Date(year, month, day, hour, min, sec, 0, time.Local)
}

// cstr cuts a fixed-width field at its first NUL and trims padding.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

// parseUsers decodes the fixed-size roster records of a bulk user read.
func parseUsers(data []byte) ([]model.User, error) {
	if len(data)%userRecordSize != 0 {
		return nil, fmt.Errorf("user data length %d not a multiple of %d", len(data), userRecordSize)
	}
	users := make([]model.User, 0, len(data)/userRecordSize)
	for off := 0; off < len(data); off += userRecordSize {
		rec := data[off : off+userRecordSize]
		uid := binary.LittleEndian.Uint16(rec[0:2])
		u := model.User{
			Privilege: int(rec[2]),
			Password:  cstr(rec[3:11]),
			Name:      cstr(rec[11:35]),
			ID:        cstr(rec[40:49]),
		}
		if u.ID == "" {
			u.ID = strconv.Itoa(int(uid))
		}
		users = append(users, u)
	}
	return users, nil
}

// parseAttendance decodes the fixed-size records of a bulk attendance read.
func parseAttendance(data []byte) ([]model.AttendanceRecord, error) {
	if len(data)%attendanceRecordSize != 0 {
		return nil, fmt.Errorf("attendance data length %d not a multiple of %d", len(data), attendanceRecordSize)
	}
	records := make([]model.AttendanceRecord, 0, len(data)/attendanceRecordSize)
	for off := 0; off < len(data); off += attendanceRecordSize {
		rec := data[off : off+attendanceRecordSize]
		records = append(records, model.AttendanceRecord{
			UserID:    cstr(rec[2:26]),
			Timestamp: decodeTime(binary.LittleEndian.Uint32(rec[27:31])),
		})
	}
	return records, nil
}

// parseLiveEvent decodes one realtime authentication push. The timestamp
// comes as six calendar bytes rather than the packed 32-bit form.
func parseLiveEvent(data []byte) (model.AuthAttempt, error) {
	if len(data) < liveEventSize {
		return model.AuthAttempt{}, fmt.Errorf("live event too short: %d bytes", len(data))
	}
	ts := data[26:32]
	return model.AuthAttempt{
		UserID: cstr(data[0:24]),
		Timestamp: time.Date(
			2000+int(ts[0]), time.Month(ts[1]), int(ts[2]),
			int(ts[3]), int(ts[4]), int(ts[5]), 0, time.Local,
		),
	}, nil
}
