package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/supportdesk/core/access"
	"github.com/relabs-tech/supportdesk/core/backend"
	"github.com/relabs-tech/supportdesk/core/backend/kss"
	"github.com/relabs-tech/supportdesk/core/csql"
	"github.com/relabs-tech/supportdesk/core/logger"
	"github.com/relabs-tech/supportdesk/core/store"
	"github.com/relabs-tech/supportdesk/desk"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	PostgresSchema   string `env:"POSTGRES_SCHEMA,default=supportdesk" description:"the database schema of the service"`
	Port             int    `env:"PORT,default=3000" description:"the port to listen on"`
	PublicURL        string `env:"PUBLIC_URL,default=http://localhost:3000" description:"the public URL of the service, used for download links"`
	LogLevel         string `env:"LOG_LEVEL,default=info" description:"the log level: debug, info, warn or error"`

	KssDriver    string `env:"KSS_DRIVER,default=Local" description:"the file storage driver, Local or AWSS3"`
	KssPath      string `env:"KSS_PATH,default=./files" description:"the folder of the local file storage"`
	AWSBucket    string `env:"AWS_BUCKET,optional" description:"the S3 bucket for AWSS3"`
	AWSRegion    string `env:"AWS_REGION,optional" description:"the AWS region for AWSS3"`
	AWSAccessID  string `env:"AWS_ACCESS_ID,optional" description:"the AWS access key id, empty for the default credential chain"`
	AWSAccessKey string `env:"AWS_ACCESS_KEY,optional" description:"the AWS secret access key"`
	AWSKeyPrefix string `env:"AWS_KEY_PREFIX,optional" description:"a prefix for all keys in the bucket"`

	JwtSecret string `env:"JWT_SECRET,required" description:"the HMAC secret of the bearer tokens"`
	JwtIssuer string `env:"JWT_ISSUER,optional" description:"the accepted token issuer, empty for any"`

	KafkaBrokers string `env:"KAFKA_BROKERS,optional" description:"comma separated kafka brokers for resource events, empty disables events"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=supportdesk.resources" description:"the topic for resource events"`

	BackdoorToken string `env:"BACKDOOR_TOKEN,optional" description:"a bearer token which authorizes as admin, for development only"`
}

func (s *Service) kssConfiguration() kss.Configuration {
	config := kss.Configuration{DriverType: kss.DriverType(s.KssDriver)}
	switch config.DriverType {
	case kss.DriverTypeLocal:
		config.LocalConfiguration = &kss.LocalConfiguration{BasePath: s.KssPath}
	case kss.DriverTypeAWSS3:
		config.S3Configuration = &kss.S3Configuration{
			AccessID:      s.AWSAccessID,
			AccessKey:     s.AWSAccessKey,
			AWSBucketName: s.AWSBucket,
			AWSRegion:     s.AWSRegion,
			KeyPrefix:     s.AWSKeyPrefix,
		}
	}
	return config
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(level)
	rlog := logger.Default()

	db, err := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, service.PostgresSchema)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	publicURL, err := url.Parse(service.PublicURL)
	if err != nil {
		panic(err)
	}

	router := mux.NewRouter()
	driver, err := kss.New(router, service.kssConfiguration(), *publicURL)
	if err != nil {
		panic(err)
	}

	bb := &backend.Builder{
		Store:             store.NewPostgres(db),
		Router:            router,
		KssDriver:         driver,
		Logger:            logrus.StandardLogger(),
		EnableCompression: true,
	}
	var publisher *backend.KafkaPublisher
	if service.KafkaBrokers != "" {
		publisher = backend.NewKafkaPublisher(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer publisher.Close()
		bb.Publisher = publisher
	}
	if _, err = desk.New(bb); err != nil {
		panic(err)
	}

	if service.BackdoorToken != "" {
		rlog.Warnln("backdoor token is enabled")
		router.Use(access.NewBackdoorMiddelware(&access.BackdoorMiddlewareBuilder{
			Backdoors: map[string]access.Authorization{
				service.BackdoorToken: {Roles: []string{access.RoleAdmin}},
			},
		}))
	}
	router.Use(access.NewJwtMiddelware(&access.JwtMiddlewareBuilder{
		Secret: []byte(service.JwtSecret),
		Issuer: service.JwtIssuer,
	}))

	handler := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(router)
	handler = handlers.CombinedLoggingHandler(rlog.Writer(), handler)
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(service.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		rlog.Infoln("listen on port", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rlog.WithError(err).Fatal("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		rlog.WithError(err).Errorln("shutdown")
	}
}
