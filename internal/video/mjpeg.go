package video

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
)

// MJPEGBoundary separates parts of the multipart/x-mixed-replace stream.
const MJPEGBoundary = "frame"

// MJPEGContentType is the response content type for the video stream.
const MJPEGContentType = "multipart/x-mixed-replace; boundary=" + MJPEGBoundary

// EncodeJPEG encodes frame at the given quality (1-100).
func EncodeJPEG(frame image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteMJPEGPart writes one JPEG as a part of the multipart stream.
func WriteMJPEGPart(w io.Writer, jpg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", MJPEGBoundary); err != nil {
		return err
	}
	if _, err := w.Write(jpg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
