package vnpay

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// QRDataURL renders the signed payment URL as a PNG QR code and returns it as
// a data URL suitable for inline embedding.
func QRDataURL(paymentURL string) (string, error) {
	png, err := qrcode.Encode(paymentURL, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("vnpay: render qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
