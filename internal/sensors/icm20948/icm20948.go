package icm20948

import (
	"fmt"
	"time"

	"bubble-level/internal/i2c"
	"bubble-level/internal/orientation"
)

var sleep = time.Sleep

// Minimal ICM-20948 driver: accelerometer plus the on-package AK09916
// magnetometer reached through I2C bypass. Gyro data is not used.

const (
	addrDefault    = 0x68
	magAddrDefault = 0x0C

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regUserCtrl   = 0x03
	regPwrMgmt1   = 0x06
	regIntPinCfg  = 0x0F
	regIntEnable  = 0x10
	regAccelXoutH = 0x2D
	bitReset      = 0x80
	bitBypassEn   = 0x02

	// Bank 2.
	bank2           = 2
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14
	fsAccel4g       = 0x02

	// AK09916.
	magRegWIA2  = 0x01
	magWIA2Val  = 0x09
	magRegST1   = 0x10
	magRegHXL   = 0x11
	magRegCNTL2 = 0x31
	magRegCNTL3 = 0x32
	magCont100  = 0x08
	magST1DRDY  = 0x01
	magST2HOFL  = 0x08
	magScaleuT  = 0.15

	standardGravity = 9.80665
)

// Sample is one accel+mag reading in device (accelerometer) axes.
type Sample struct {
	Time time.Time
	// Accel in m/s^2.
	Accel orientation.Vec3
	// Mag in uT, rotated into accel axes. Zero until HaveMag.
	Mag     orientation.Vec3
	HaveMag bool
}

type Device struct {
	imu regIO
	mag regIO

	curBank    byte
	scaleAccel float64

	lastMag orientation.Vec3
	haveMag bool
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16    { return addrDefault }
func DefaultMagAddress() uint16 { return magAddrDefault }

func New(imu, mag *i2c.Dev) (*Device, error) {
	if imu == nil || mag == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	return newWithIO(imu, mag)
}

func newWithIO(imu, mag regIO) (*Device, error) {
	if imu == nil || mag == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	d := &Device{imu: imu, mag: mag, curBank: 0xFF}

	who, err := d.imu.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	if err := d.initIMU(); err != nil {
		return nil, err
	}
	if err := d.initMag(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) initIMU() error {
	if err := d.setBank(0); err != nil {
		return err
	}
	_ = d.imu.WriteReg(regIntEnable, 0x00)

	if err := d.imu.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset puts the bank back to 0.
	d.curBank = 0

	if err := d.imu.WriteReg(regPwrMgmt1, 0x01); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	// Internal I2C master off, bypass on, so the AK09916 sits on the host bus.
	if err := d.imu.WriteReg(regUserCtrl, 0x00); err != nil {
		return fmt.Errorf("icm20948: user ctrl failed: %w", err)
	}
	if err := d.imu.WriteReg(regIntPinCfg, bitBypassEn); err != nil {
		return fmt.Errorf("icm20948: bypass enable failed: %w", err)
	}

	if err := d.setBank(bank2); err != nil {
		return err
	}
	// 1125/(1+div) Hz; ~50 Hz.
	_ = d.imu.WriteReg(regAccelSmplrt2, byte(1125/50-1))
	if err := d.imu.WriteReg(regAccelConfig, fsAccel4g); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}
	if err := d.setBank(0); err != nil {
		return err
	}

	d.scaleAccel = 4.0 / 32768.0 * standardGravity
	return nil
}

func (d *Device) initMag() error {
	sleep(10 * time.Millisecond)
	wia, err := d.mag.ReadRegU8(magRegWIA2)
	if err != nil {
		return fmt.Errorf("icm20948: magnetometer whoami read failed: %w", err)
	}
	if wia != magWIA2Val {
		return fmt.Errorf("icm20948: magnetometer wia2=0x%02X want 0x%02X", wia, magWIA2Val)
	}
	if err := d.mag.WriteReg(magRegCNTL3, 0x01); err != nil {
		return fmt.Errorf("icm20948: magnetometer reset failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	if err := d.mag.WriteReg(magRegCNTL2, magCont100); err != nil {
		return fmt.Errorf("icm20948: magnetometer mode failed: %w", err)
	}
	return nil
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.imu.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// Read returns the current acceleration and the most recent magnetometer
// vector. A magnetometer that has no new data keeps its previous value.
func (d *Device) Read() (Sample, error) {
	if d == nil {
		return Sample{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Sample{}, err
	}

	buf := make([]byte, 6)
	if err := d.imu.ReadReg(regAccelXoutH, buf); err != nil {
		return Sample{}, fmt.Errorf("icm20948: read accel failed: %w", err)
	}
	ax := int16(buf[0])<<8 | int16(buf[1])
	ay := int16(buf[2])<<8 | int16(buf[3])
	az := int16(buf[4])<<8 | int16(buf[5])

	if err := d.readMag(); err != nil {
		return Sample{}, err
	}

	return Sample{
		Time: time.Now(),
		Accel: orientation.Vec3{
			float64(ax) * d.scaleAccel,
			float64(ay) * d.scaleAccel,
			float64(az) * d.scaleAccel,
		},
		Mag:     d.lastMag,
		HaveMag: d.haveMag,
	}, nil
}

func (d *Device) readMag() error {
	st1, err := d.mag.ReadRegU8(magRegST1)
	if err != nil {
		return fmt.Errorf("icm20948: read magnetometer status failed: %w", err)
	}
	if st1&magST1DRDY == 0 {
		return nil
	}

	// HXL..HZH, TMPS, ST2. Reading ST2 releases the data registers.
	buf := make([]byte, 8)
	if err := d.mag.ReadReg(magRegHXL, buf); err != nil {
		return fmt.Errorf("icm20948: read magnetometer failed: %w", err)
	}
	if buf[7]&magST2HOFL != 0 {
		return nil
	}
	mx := int16(buf[1])<<8 | int16(buf[0])
	my := int16(buf[3])<<8 | int16(buf[2])
	mz := int16(buf[5])<<8 | int16(buf[4])

	// AK09916 Y and Z point opposite to the accelerometer axes.
	d.lastMag = orientation.Vec3{
		float64(mx) * magScaleuT,
		-float64(my) * magScaleuT,
		-float64(mz) * magScaleuT,
	}
	d.haveMag = true
	return nil
}
