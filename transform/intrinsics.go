// Package transform implements the planar projective and perspective geometry used
// for camera-to-surface calibration: homography fitting, pose recovery from marker
// correspondences (PnP) and the camera intrinsics both need.
package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrapf(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection
// of a 3D scene to the 2D plane, plus an optional radial/tangential distortion model.
type PinholeCameraIntrinsics struct {
	Width      int           `json:"width_px"`
	Height     int           `json:"height_px"`
	Fx         float64       `json:"fx"`
	Fy         float64       `json:"fy"`
	Ppx        float64       `json:"ppx"`
	Ppy        float64       `json:"ppy"`
	Distortion *BrownConrady `json:"distortion,omitempty"`
}

// BrownConrady is the Brown-Conrady model of distortion: 3 radial and 2 tangential
// coefficients applied in normalized camera coordinates.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// Transform distorts the undistorted normalized coordinates (x, y).
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	rr := x*x + y*y
	radial := 1 + bc.RadialK1*rr + bc.RadialK2*rr*rr + bc.RadialK3*rr*rr*rr
	xd := x*radial + 2*bc.TangentialP1*x*y + bc.TangentialP2*(rr+2*x*x)
	yd := y*radial + bc.TangentialP1*(rr+2*y*y) + 2*bc.TangentialP2*x*y
	return xd, yd
}

// Undistort inverts the distortion model by fixed-point iteration, mapping distorted
// normalized coordinates back to undistorted ones.
func (bc *BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	x, y := xd, yd
	for i := 0; i < 10; i++ {
		xe, ye := bc.Transform(x, y)
		x += xd - xe
		y += yd - ye
	}
	return x, y
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// NewPinholeCameraIntrinsicsFromJSONFile takes in a file path to a JSON and turns it
// into PinholeCameraIntrinsics.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	intrinsics := &PinholeCameraIntrinsics{}
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	return intrinsics, nil
}

// PixelToNormalized converts a pixel coordinate to normalized camera coordinates on the
// z=1 plane, undistorting first when a distortion model is present.
func (params *PinholeCameraIntrinsics) PixelToNormalized(pt r2.Point) r2.Point {
	x := (pt.X - params.Ppx) / params.Fx
	y := (pt.Y - params.Ppy) / params.Fy
	if params.Distortion != nil {
		x, y = params.Distortion.Undistort(x, y)
	}
	return r2.Point{X: x, Y: y}
}

// NormalizedToPixel projects normalized camera coordinates back to pixels, applying
// the distortion model when present.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(pt r2.Point) r2.Point {
	x, y := pt.X, pt.Y
	if params.Distortion != nil {
		x, y = params.Distortion.Transform(x, y)
	}
	return r2.Point{X: x*params.Fx + params.Ppx, Y: y*params.Fy + params.Ppy}
}

// PointToPixel projects a 3D point in the camera frame to a pixel in the image plane.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z == 0. {
		return -1.0, -1.0
	}
	px := params.NormalizedToPixel(r2.Point{X: x / z, Y: y / z})
	return px.X, px.Y
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}
