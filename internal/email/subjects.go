package email

const (
	subjectOrderConfirmationFmt = "Your order %s is confirmed"
)
