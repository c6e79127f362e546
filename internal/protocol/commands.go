package protocol

// Command codes understood by ZKTeco and Fingertec terminals.
const (
	CmdUserWriteRequest uint16 = 8
	CmdDeleteUser       uint16 = 18

	CmdConnect     uint16 = 1000
	CmdExit        uint16 = 1001
	CmdAuth        uint16 = 1102
	CmdPrepareData uint16 = 1500
	CmdData        uint16 = 1502

	CmdAckOK     uint16 = 2000
	CmdAckError  uint16 = 2001
	CmdAckUnauth uint16 = 2005
)

// DefaultPort is the TCP port terminals listen on unless configured otherwise.
const DefaultPort = 4370

// CommandName returns a readable name for a command code, used in logs.
func CommandName(cmd uint16) string {
	switch cmd {
	case CmdUserWriteRequest:
		return "USER_WRITE_REQUEST"
	case CmdDeleteUser:
		return "DELETE_USER"
	case CmdConnect:
		return "CONNECT"
	case CmdExit:
		return "EXIT"
	case CmdAuth:
		return "AUTH"
	case CmdPrepareData:
		return "PREPARE_DATA"
	case CmdData:
		return "DATA"
	case CmdAckOK:
		return "ACK_OK"
	case CmdAckError:
		return "ACK_ERROR"
	case CmdAckUnauth:
		return "ACK_UNAUTH"
	default:
		return "UNKNOWN"
	}
}
