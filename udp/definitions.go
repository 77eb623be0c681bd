package udp

// sizeHeader is the fixed size in bytes of a UDP header (source port,
// destination port, length, checksum).
const sizeHeader = 8
