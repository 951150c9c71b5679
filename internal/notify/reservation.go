package notify

import (
	"bytes"
	"context"
	"html/template"
	"strings"

	"stall-service/internal/models"
	"stall-service/internal/util"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ReservationSubject is the subject of the confirmation mail
const ReservationSubject = "Reservation Confirmed - Colombo Book Fair"

// QRImageName is the inline name of the QR code; the template refers to it as cid:qrImage.png
const QRImageName = "qrImage.png"

// QRRenderer turns a reservation token into a PNG QR code
type QRRenderer interface {
	Render(token string) ([]byte, error)
}

var reservationTemplate = template.Must(template.New("reservation").Parse(`<html>
<body>
<h1>Hello {{.VendorName}},</h1>
<p>Your reservation for <b>{{.Stalls}}</b> is confirmed!</p>
<p>Your reservation code is <b>{{.Code}}</b>. Please present its QR code at the entrance.</p>
<p>Amount: {{.Amount}} ({{.PaymentStatus}})</p>
{{if .WithQR}}<p><img src="cid:qrImage.png" alt="Reservation QR code" width="250" height="250"/></p>{{end}}
<br/><br/>
<p>See you at the fair!</p>
</body>
</html>`))

// ReservationMailer sends the confirmation mail for committed bookings
type ReservationMailer struct {
	mailer Mailer
	qr     QRRenderer
	logger *zap.Logger
}

// NewReservationMailer creates the handler; without a renderer mails go out
// without the QR code.
func NewReservationMailer(mailer Mailer, qr QRRenderer) *ReservationMailer {
	return &ReservationMailer{mailer: mailer, qr: qr, logger: util.GetLogger()}
}

// HandleReservationConfirmed mails the vendor. Events without a recipient are skipped.
func (m *ReservationMailer) HandleReservationConfirmed(ctx context.Context, event *models.ReservationConfirmedEvent) error {
	if strings.TrimSpace(event.VendorEmail) == "" {
		m.logger.Warn("Reservation has no vendor e-mail, skipping notification",
			zap.String("reservation_code", event.ReservationToken))
		return nil
	}

	var inline []Inline
	if png := m.renderQR(event.ReservationToken); png != nil {
		inline = append(inline, Inline{Name: QRImageName, Data: png})
	}

	body, err := RenderReservationEmail(event, len(inline) > 0)
	if err != nil {
		return err
	}

	if err := m.mailer.Send(ctx, Message{
		To:       event.VendorEmail,
		Subject:  ReservationSubject,
		HTMLBody: body,
		Inline:   inline,
	}); err != nil {
		util.SideChannelFailuresTotal.WithLabelValues("notification").Inc()
		return errors.Wrapf(err, "failed to notify vendor %d", event.VendorID)
	}

	m.logger.Info("Reservation e-mail sent",
		zap.String("reservation_code", event.ReservationToken),
		zap.String("to", event.VendorEmail))
	return nil
}

// renderQR returns nil when no code could be produced; the mail still goes out
func (m *ReservationMailer) renderQR(token string) []byte {
	if m.qr == nil {
		return nil
	}
	png, err := m.qr.Render(token)
	if err != nil {
		util.SideChannelFailuresTotal.WithLabelValues("qr").Inc()
		m.logger.Error("QR rendering for e-mail failed",
			zap.String("reservation_code", token),
			zap.Error(err))
		return nil
	}
	return png
}

// RenderReservationEmail builds the HTML body of the confirmation mail. withQR
// adds the image tag for the inline QR code.
func RenderReservationEmail(event *models.ReservationConfirmedEvent, withQR bool) (string, error) {
	codes := make([]string, 0, len(event.Stalls))
	for _, st := range event.Stalls {
		codes = append(codes, st.StallCode)
	}

	var buf bytes.Buffer
	err := reservationTemplate.Execute(&buf, struct {
		VendorName    string
		Stalls        string
		Code          string
		Amount        int64
		PaymentStatus string
		WithQR        bool
	}{
		VendorName:    event.VendorName,
		Stalls:        strings.Join(codes, ", "),
		Code:          event.ReservationToken,
		Amount:        event.Amount,
		PaymentStatus: event.PaymentStatus,
		WithQR:        withQR,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to render reservation e-mail")
	}
	return buf.String(), nil
}
