/*
Package protocol implements the request/response messages of the identity
and gateway storage services.

Every message starts with the envelope. Multi-byte integers are big-endian,
EUIs, addresses and keys are copied verbatim.

Envelope (13 bytes)

	  0      1      2      3      4      5      6      7      8      9     10     11     12
	+------+------+------+------+------+------+------+------+------+------+------+------+------+
	| tag  |          code             |                     accessCode                        |
	+------+------+------+------+------+------+------+------+------+------+------+------+------+

Operation request (18 bytes), used by list, count, force save and close

	+----------+----------------------+------+
	| envelope | offset (uint32)      | size |
	+----------+----------------------+------+
	0          13                     17     18

Operation response (22 bytes)

	+--------------------+------------------+
	| operation request  | response (int32) |
	+--------------------+------------------+
	0                    18                 22

response >= 0 carries the result (count, number of list entries, or 0),
response < 0 carries a Status.

List response

	+--------------------+--------------+-----+--------------+
	| operation response | entry 0      | ... | entry n-1    |
	+--------------------+--------------+-----+--------------+

Identity entries are NetworkIdentity (addr(4) + DeviceIdentity(96)).
Gateway entries are id(8) + family(1) + port(2) + address(4|16); an unset
address takes no bytes.

Get response

	+----------+-----------------+--------------------------------+
	| envelope | status (int32)  | NetworkIdentity|GatewayIdentity |
	+----------+-----------------+--------------------------------+
	0          13                17

Identity requests

	'a'  envelope + addr(4)                                   17
	'i'  envelope + eui(8)                                    21
	'p'  envelope + eui(8) + addr(4) [+ DeviceIdentity[8:96]] 25 or 113
	'r'  envelope + addr(4)                                   17
	'r'  envelope + eui(8) + addr(4)                          25
	'l' 'c' 's' 'e'  operation request                        18

Gateway requests

	'a' 'r'          envelope + id(8) [+ sockaddr]            21+
	'A' 'p'          envelope + id(8) + sockaddr              28+
	'L' 'c' 'f' 'd'  operation request                        18
*/
package protocol
