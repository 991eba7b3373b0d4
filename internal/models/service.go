package models

// wellKnownServices maps common ports to the service usually behind them
var wellKnownServices = map[uint16]string{
	20:    "FTP-DATA",
	21:    "FTP",
	22:    "SSH",
	23:    "TELNET",
	25:    "SMTP",
	53:    "DNS",
	80:    "HTTP",
	110:   "POP3",
	143:   "IMAP",
	443:   "HTTPS",
	445:   "SMB",
	587:   "SMTP-TLS",
	993:   "IMAPS",
	995:   "POP3S",
	1433:  "MSSQL",
	3306:  "MySQL",
	3389:  "RDP",
	5432:  "PostgreSQL",
	5900:  "VNC",
	6379:  "Redis",
	8080:  "HTTP-ALT",
	8443:  "HTTPS-ALT",
	9200:  "Elasticsearch",
	27017: "MongoDB",
}

// ServiceForPort returns the service name for a well known port, or ""
func ServiceForPort(port uint16) string {
	return wellKnownServices[port]
}
