package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/domodwyer/mailyak/v3"

	"tiketku/internal/config"
	"tiketku/internal/logger"
	"tiketku/internal/models"
)

// Mailer sends transactional email after settlement. All sends are best
// effort; the settlement transaction never waits on SMTP.
type Mailer struct {
	cfg config.EmailConfig
	log *logger.Logger

	// newMail is swappable in tests.
	newMail func() *mailyak.MailYak
}

func NewMailer(cfg config.EmailConfig, log *logger.Logger) *Mailer {
	m := &Mailer{cfg: cfg, log: log}
	m.newMail = func() *mailyak.MailYak {
		addr := cfg.SMTPHost + ":" + cfg.SMTPPort
		auth := smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
		return mailyak.New(addr, auth)
	}
	return m
}

func (m *Mailer) send(to, subject, plain, html string) error {
	if !m.cfg.Enabled {
		return nil
	}
	if to == "" {
		return fmt.Errorf("no recipient address")
	}

	mail := m.newMail()
	mail.From(m.cfg.From)
	mail.FromName("TiketKu")
	mail.To(to)
	mail.Subject(subject)
	mail.Plain().Set(plain)
	if html != "" {
		mail.HTML().Set(html)
	}

	if err := mail.Send(); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	if m.log != nil {
		m.log.Info("EMAIL", fmt.Sprintf("sent %q to %s", subject, to))
	}
	return nil
}

// OrderConfirmed mails the buyer after a successful payment.
func (m *Mailer) OrderConfirmed(order *models.Order, ticketCount int) error {
	subject := fmt.Sprintf("Pembayaran Berhasil - Pesanan %s", order.ID)

	var b strings.Builder
	fmt.Fprintf(&b, "Halo %s,\n\n", buyerName(order))
	fmt.Fprintf(&b, "Pembayaran untuk pesanan %s telah kami terima.\n", order.ID)
	fmt.Fprintf(&b, "Total: Rp%.0f\n", order.TotalAmount)
	fmt.Fprintf(&b, "Jumlah tiket: %d\n\n", ticketCount)
	b.WriteString("Tiket Anda sudah aktif dan siap digunakan. Tunjukkan kode QR tiket di pintu masuk.\n\n")
	b.WriteString("Terima kasih,\nTim TiketKu")

	html := fmt.Sprintf(
		`<p>Halo <b>%s</b>,</p><p>Pembayaran untuk pesanan <b>%s</b> telah kami terima.</p><p>Total: <b>Rp%.0f</b><br>Jumlah tiket: <b>%d</b></p><p>Tiket Anda sudah aktif dan siap digunakan. Tunjukkan kode QR tiket di pintu masuk.</p><p>Terima kasih,<br>Tim TiketKu</p>`,
		buyerName(order), order.ID, order.TotalAmount, ticketCount)

	return m.send(order.BuyerEmail, subject, b.String(), html)
}

// OrderCancelled mails the buyer when the order is cancelled or expires.
func (m *Mailer) OrderCancelled(order *models.Order) error {
	subject := fmt.Sprintf("Pesanan Dibatalkan - %s", order.ID)

	var b strings.Builder
	fmt.Fprintf(&b, "Halo %s,\n\n", buyerName(order))
	fmt.Fprintf(&b, "Pesanan %s telah dibatalkan dan kursi yang dipesan sudah dikembalikan.\n", order.ID)
	b.WriteString("Jika Anda masih ingin hadir, silakan buat pesanan baru selama tiket masih tersedia.\n\n")
	b.WriteString("Terima kasih,\nTim TiketKu")

	html := fmt.Sprintf(
		`<p>Halo <b>%s</b>,</p><p>Pesanan <b>%s</b> telah dibatalkan dan kursi yang dipesan sudah dikembalikan.</p><p>Jika Anda masih ingin hadir, silakan buat pesanan baru selama tiket masih tersedia.</p><p>Terima kasih,<br>Tim TiketKu</p>`,
		buyerName(order), order.ID)

	return m.send(order.BuyerEmail, subject, b.String(), html)
}

func buyerName(order *models.Order) string {
	if order.BuyerName != "" {
		return order.BuyerName
	}
	return "Pelanggan"
}
