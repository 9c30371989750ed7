// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package display shows the result of the last classification cycle on an
// SSD1306 OLED.
package display

import (
	"fmt"
	"image"
	"io"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/motion_classifier/internal/app"
	"github.com/relabs-tech/motion_classifier/internal/classifier"
)

const (
	width      = 128
	height     = 64
	lineHeight = 13
	maxRows    = 3 // prediction rows under the header
)

// drawer is the part of ssd1306.Dev the display needs.
type drawer interface {
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Bounds() image.Rectangle
}

// Display renders cycle reports. It implements app.Observer.
type Display struct {
	dev drawer
	bus io.Closer
}

// Open initializes the OLED on the named I2C bus ("" for the first one) and
// shows a splash screen.
func Open(busName string) (*Display, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Info().Msg("display: initialized")

	d := &Display{dev: dev, bus: bus}
	if err := d.show(Splash()); err != nil {
		log.Warn().Err(err).Msg("display: error showing splash")
	}
	return d, nil
}

func (d *Display) show(img image.Image) error {
	return d.dev.Draw(d.dev.Bounds(), img, image.Point{})
}

func (d *Display) ObserveCycle(r app.Report) {
	if err := d.show(Render(r)); err != nil {
		log.Warn().Err(err).Msg("display: error updating")
	}
}

func (d *Display) Close() error {
	return d.bus.Close()
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, width, height))
	return img, &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
}

func line(d *font.Drawer, row int, text string) {
	d.Dot = fixed.P(0, (row+1)*lineHeight)
	d.DrawString(text)
}

// Splash is shown until the first cycle finishes.
func Splash() *image1bit.VerticalLSB {
	img, d := newCanvas()
	d.Dot = fixed.P(10, 26)
	d.DrawString("Motion Pi")
	d.Dot = fixed.P(5, 43)
	d.DrawString("Waiting...")
	return img
}

// Render draws the cycle number, its outcome and the best predictions.
func Render(r app.Report) *image1bit.VerticalLSB {
	img, d := newCanvas()
	line(d, 0, fmt.Sprintf("#%d %s", r.Cycle, r.Outcome()))

	if r.ClassifyErr != nil {
		line(d, 1, "no result")
		return img
	}
	for i, p := range classifier.Top(r.Predictions, maxRows) {
		label := p.Label
		if len(label) > 10 {
			label = label[:10]
		}
		line(d, i+1, fmt.Sprintf("%-10s %5.1f%%", label, p.Score*100))
	}
	return img
}
