package softi2c

import (
	"context"
)

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	// Release frees a bus left in an undefined state (e.g. a slave holding SDA).
	Release(ctx context.Context) error
}

// I2CBus is a blocking, buffer oriented bus used by one-shot device drivers.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}
