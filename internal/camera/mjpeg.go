package camera

import (
	"fmt"
	"image"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"time"
)

// MJPEGSource reads frames from an HTTP multipart/x-mixed-replace MJPEG
// stream, the format served by most IP cameras and by our own dashboard.
type MJPEGSource struct {
	url    string
	client *http.Client

	resp   *http.Response
	reader *multipart.Reader
}

// NewMJPEGSource creates a source for the given stream URL.
func NewMJPEGSource(url string) *MJPEGSource {
	return &MJPEGSource{
		url: url,
		// No overall timeout: the response body is an endless stream.
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 10 * time.Second,
			},
		},
	}
}

// Open connects to the stream and prepares the multipart reader.
func (s *MJPEGSource) Open() error {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return fmt.Errorf("connecting to stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("parsing stream content type: %w", err)
	}
	if mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		resp.Body.Close()
		return fmt.Errorf("not an MJPEG stream: %s", mediaType)
	}

	s.resp = resp
	s.reader = multipart.NewReader(resp.Body, params["boundary"])
	return nil
}

// Read decodes the next JPEG part from the stream.
func (s *MJPEGSource) Read() (image.Image, error) {
	if s.reader == nil {
		return nil, fmt.Errorf("stream not open")
	}
	part, err := s.reader.NextPart()
	if err != nil {
		return nil, fmt.Errorf("reading stream part: %w", err)
	}
	defer part.Close()

	img, err := jpeg.Decode(part)
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	return img, nil
}

// Close terminates the stream connection.
func (s *MJPEGSource) Close() error {
	s.reader = nil
	if s.resp != nil {
		err := s.resp.Body.Close()
		s.resp = nil
		return err
	}
	return nil
}
