package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sony/sonyflake"
)

// Generator hands out client message ids (uuid v4, stable across retries)
// and local ids for queued messages. Local ids are time ordered so a queue
// dump reads in send order.
type Generator struct {
	sf *sonyflake.Sonyflake
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// New builds a Generator. The sonyflake machine id is derived from the
// private IP when one exists and is random otherwise.
func New() (*Generator, error) {
	sf := sonyflake.NewSonyflake(sonyflake.Settings{StartTime: epoch})
	if sf == nil {
		sf = sonyflake.NewSonyflake(sonyflake.Settings{
			StartTime: epoch,
			MachineID: randomMachineID,
		})
	}
	if sf == nil {
		return nil, fmt.Errorf("idgen: could not initialise sonyflake")
	}
	return &Generator{sf: sf}, nil
}

func (g *Generator) ClientMessageID() string {
	return uuid.NewString()
}

func (g *Generator) LocalID() string {
	suffix := uuid.NewString()[:8]
	id, err := g.sf.NextID()
	if err != nil {
		// sonyflake only fails once its clock range is exhausted
		return "local-" + strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + suffix
	}
	return "local-" + strconv.FormatUint(id, 36) + "-" + suffix
}

func randomMachineID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
