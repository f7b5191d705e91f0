package zk

// Command codes of the terminal's TCP protocol.
const (
	cmdConnect     uint16 = 1000
	cmdExit        uint16 = 1001
	cmdEnableDev   uint16 = 1002
	cmdDisableDev  uint16 = 1003
	cmdRegEvent    uint16 = 500
	cmdGetTime     uint16 = 201
	cmdUnlock      uint16 = 31
	cmdTestVoice   uint16 = 1017
	cmdPrepareData uint16 = 1500
	cmdData        uint16 = 1501
	cmdFreeData    uint16 = 1502
	cmdDataWrrq    uint16 = 1503

	cmdAckOK     uint16 = 2000
	cmdAckError  uint16 = 2001
	cmdAckData   uint16 = 2002
	cmdAckUnauth uint16 = 2005
)

// Bulk read catalogs.
const (
	fctUser       byte = 5
	fctAttendance byte = 1
)

// Realtime event flags for cmdRegEvent.
const (
	efAttLog uint32 = 1
)

const (
	// tcpMagic prefixes every packet on the wire.
	tcpMagic uint32 = 0x7d825050

	userRecordSize       = 72
	attendanceRecordSize = 40
	liveEventSize        = 32

	maxPacketSize = 1 << 20
)
