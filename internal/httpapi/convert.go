package httpapi

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/campusops/qrgate/internal/qrgate/types"
)

// Terminal wire messages. Field numbers are fixed; unknown fields are
// skipped so terminals can be upgraded ahead of the server.
//
//	message TerminalScanRequest {
//	  string scanned_qr_data    = 1;
//	  string device_fingerprint = 2;
//	  string device_trust_token = 3;
//	  string action_point_id    = 4;
//	}
//
//	message ScanResponse {
//	  bool   success           = 1;
//	  string message           = 2;
//	  string validation_result = 3;
//	  string action_type       = 4;
//	  string scan_log_id       = 5;
//	  string person_id         = 6;
//	}

// ── Terminal scan ────────────────────────────────────────────────────────────

func terminalScanFromProto(b []byte) (types.TerminalScanRequest, error) {
	var req types.TerminalScanRequest
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return req, protowire.ParseError(n)
		}
		b = b[n:]

		if typ != protowire.BytesType || num < 1 || num > 4 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return req, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return req, protowire.ParseError(n)
		}
		b = b[n:]

		switch num {
		case 1:
			req.ScannedQRData = v
		case 2:
			req.DeviceFingerprint = v
		case 3:
			req.DeviceTrustToken = v
		case 4:
			req.ActionPointID = v
		}
	}
	return req, nil
}

// ── Scan response ────────────────────────────────────────────────────────────

func scanResponseToProto(r types.ScanResponse) []byte {
	var b []byte
	if r.Success {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	b = appendString(b, 2, r.Message)
	b = appendString(b, 3, string(r.ValidationResult))
	b = appendString(b, 4, r.ActionType)
	b = appendString(b, 5, r.ScanLogID)
	b = appendString(b, 6, r.PersonID)
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
