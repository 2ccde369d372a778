package testhelper

type sectorReader func(sector uint32, p []byte) error
type sectorWriter func(sector uint32, p []byte) error

// DeviceImpl implements github.com/sectorfs/go-sectorfs/blockdev.Device
// used for testing to enable stubbing out devices
type DeviceImpl struct {
	Reader     sectorReader
	Writer     sectorWriter
	NumSectors uint32
}

// ReadSector read a single sector via the stubbed reader
func (d *DeviceImpl) ReadSector(sector uint32, p []byte) error {
	return d.Reader(sector, p)
}

// WriteSector write a single sector via the stubbed writer
func (d *DeviceImpl) WriteSector(sector uint32, p []byte) error {
	return d.Writer(sector, p)
}

func (d *DeviceImpl) Sectors() uint32 {
	return d.NumSectors
}

func (d *DeviceImpl) Close() error {
	return nil
}
