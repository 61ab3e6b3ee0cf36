package httpapi

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/campusops/qrgate/internal/qrgate/types"
)

// Client-side halves of the terminal codec, used by tests to play the
// terminal.

var (
	TerminalScanToProto   = terminalScanToProto
	ScanResponseFromProto = scanResponseFromProto
	TerminalScanFromProto = terminalScanFromProto
)

func terminalScanToProto(req types.TerminalScanRequest) []byte {
	var b []byte
	b = appendString(b, 1, req.ScannedQRData)
	b = appendString(b, 2, req.DeviceFingerprint)
	b = appendString(b, 3, req.DeviceTrustToken)
	b = appendString(b, 4, req.ActionPointID)
	return b
}

func scanResponseFromProto(b []byte) (types.ScanResponse, error) {
	var r types.ScanResponse
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
			r.Success = protowire.DecodeBool(v)
		case num >= 2 && num <= 6 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case 2:
				r.Message = v
			case 3:
				r.ValidationResult = types.ValidationResult(v)
			case 4:
				r.ActionType = v
			case 5:
				r.ScanLogID = v
			case 6:
				r.PersonID = v
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return r, nil
}
