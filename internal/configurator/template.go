package configurator

// ovpnTemplate is the OpenVPN client configuration
// Every port of the protocol is rendered as a remote for every IP
const ovpnTemplate = `# ProtonVPN OpenVPN configuration, generated for {{ .Server }}

client
dev tun
proto {{ .Protocol }}
{{ range $ip := .IPs }}{{ range $port := $.Ports }}
remote {{ $ip }} {{ $port }}{{ end }}{{ end }}

remote-random
resolv-retry infinite
nobind
cipher AES-256-CBC
auth SHA512
verb 3

setenv CLIENT_CERT 0
tun-mtu 1500
tun-mtu-extra 32
mssfix 1450
persist-key
persist-tun

reneg-sec 0

remote-cert-tls server
auth-user-pass
pull
fast-io
{{ range .SplitTunnel }}
route {{ . }} 255.255.255.255 net_gateway{{ end }}

<ca>
{{ .CA }}
</ca>

key-direction 1
<tls-auth>
{{ .TLSAuth }}
</tls-auth>
`
