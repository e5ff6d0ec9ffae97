package libchd

import "fmt"

// Status is an engine status code. A nil error means success; every failure
// returned by this package is a Status, so callers can translate it with a
// type switch.
type Status int

const (
	StatusNone Status = iota
	StatusNoInterface
	StatusOutOfMemory
	StatusInvalidFile
	StatusInvalidParameter
	StatusInvalidData
	StatusFileNotFound
	StatusRequiresParent
	StatusFileNotWriteable
	StatusReadError
	StatusWriteError
	StatusCodecError
	StatusInvalidParent
	StatusHunkOutOfRange
	StatusDecompressionError
	StatusCompressionError
	StatusCantCreateFile
	StatusCantVerify
	StatusNotSupported
	StatusMetadataNotFound
	StatusInvalidMetadataSize
	StatusUnsupportedVersion
	StatusVerifyIncomplete
	StatusInvalidMetadata
	StatusInvalidState
	StatusOperationPending
	StatusNoAsyncOperation
	StatusUnsupportedFormat
)

var statusText = [...]string{
	StatusNone:                "no error",
	StatusNoInterface:         "no drive interface",
	StatusOutOfMemory:         "out of memory",
	StatusInvalidFile:         "invalid file",
	StatusInvalidParameter:    "invalid parameter",
	StatusInvalidData:         "invalid data",
	StatusFileNotFound:        "file not found",
	StatusRequiresParent:      "requires parent",
	StatusFileNotWriteable:    "file not writeable",
	StatusReadError:           "read error",
	StatusWriteError:          "write error",
	StatusCodecError:          "codec error",
	StatusInvalidParent:       "invalid parent",
	StatusHunkOutOfRange:      "hunk out of range",
	StatusDecompressionError:  "decompression error",
	StatusCompressionError:    "compression error",
	StatusCantCreateFile:      "can't create file",
	StatusCantVerify:          "can't verify file",
	StatusNotSupported:        "operation not supported",
	StatusMetadataNotFound:    "can't find metadata",
	StatusInvalidMetadataSize: "invalid metadata size",
	StatusUnsupportedVersion:  "unsupported CHD version",
	StatusVerifyIncomplete:    "incomplete verify",
	StatusInvalidMetadata:     "invalid metadata",
	StatusInvalidState:        "invalid state",
	StatusOperationPending:    "operation pending",
	StatusNoAsyncOperation:    "no async operation in progress",
	StatusUnsupportedFormat:   "unsupported format",
}

func (s Status) Error() string {
	if s >= 0 && int(s) < len(statusText) {
		return statusText[s]
	}
	return fmt.Sprintf("undocumented error (%d)", int(s))
}
