package mesh

import (
	"strconv"

	"google.golang.org/protobuf/proto"
)

func protoUnmarshal(payload []byte, msg proto.Message) error {
	return proto.Unmarshal(payload, msg)
}

func formatUint32(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}

func float64Ptr(v float64) *float64 {
	return &v
}

func uint32Ptr(v uint32) *uint32 {
	return &v
}
