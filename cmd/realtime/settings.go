package main

type Settings struct {
	Port        int      `env:"PORT,default=8000"`
	BasePath    string   `env:"BASE_PATH,default=/realtime"`
	LogEncoding string   `env:"LOG_ENCODING,default=console"`
	JWTSecret   string   `env:"JWT_SECRET,required=true"`
	APIKeys     []string `env:"API_KEYS"`

	// Empty means any origin is accepted on the websocket upgrade.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"`
	MongoDBURI  string   `env:"MONGODB_URI,default=mongodb://localhost:27017"`

	FCMEndpoint  string `env:"FCM_ENDPOINT,default=https://fcm.googleapis.com/fcm/send"`
	FCMServerKey string `env:"FCM_SERVER_KEY"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	EmailFrom    string `env:"EMAIL_FROM,default=no-reply@chattingus.app"`
}
